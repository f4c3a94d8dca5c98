package knowledge

import (
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/theapemachine/a2a-core/pkg/a2a"
)

// snapshotKey binds the filtered statement snapshot to the context a
// query executes under.
type snapshotKey struct{}

/*
literalType is a passthrough scalar for KG object literals.  The wire
contract admits strings, numbers and booleans in the same position, so
the schema cannot commit to a single built-in scalar.
*/
var literalType = graphql.NewScalar(graphql.ScalarConfig{
	Name:         "Literal",
	Description:  "A string, number or boolean literal carried by a statement object.",
	Serialize:    func(value any) any { return value },
	ParseValue:   func(value any) any { return value },
	ParseLiteral: parseLiteralValue,
})

// jsonType carries provenance documents through the executor unchanged.
var jsonType = graphql.NewScalar(graphql.ScalarConfig{
	Name:         "JSON",
	Description:  "An arbitrary JSON document.",
	Serialize:    func(value any) any { return value },
	ParseValue:   func(value any) any { return value },
	ParseLiteral: parseLiteralValue,
})

// parseLiteralValue decodes an inline AST literal the same way JSON
// decoding would, so inline arguments and variable-bound arguments
// compare under the same rules.
func parseLiteralValue(valueAST ast.Value) any {
	switch typed := valueAST.(type) {
	case *ast.IntValue:
		if parsed, err := strconv.ParseFloat(typed.Value, 64); err == nil {
			return parsed
		}

		return typed.Value
	case *ast.FloatValue:
		if parsed, err := strconv.ParseFloat(typed.Value, 64); err == nil {
			return parsed
		}

		return typed.Value
	case *ast.StringValue:
		return typed.Value
	case *ast.BooleanValue:
		return typed.Value
	default:
		return valueAST.GetValue()
	}
}

/*
buildSchema assembles the statement query schema.  Statements resolve
against the snapshot bound to the request context, so one schema
serves every query against the store.
*/
func buildSchema() (graphql.Schema, error) {
	subjectType := graphql.NewObject(graphql.ObjectConfig{
		Name: "KGSubject",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"type": &graphql.Field{Type: graphql.String},
		},
	})

	predicateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "KGPredicate",
		Fields: graphql.Fields{
			"id": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	objectType := graphql.NewObject(graphql.ObjectConfig{
		Name: "KGObject",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.String},
			"value": &graphql.Field{Type: literalType},
			"type":  &graphql.Field{Type: graphql.String},
		},
	})

	statementType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Statement",
		Fields: graphql.Fields{
			"subject":    &graphql.Field{Type: graphql.NewNonNull(subjectType)},
			"predicate":  &graphql.Field{Type: graphql.NewNonNull(predicateType)},
			"object":     &graphql.Field{Type: graphql.NewNonNull(objectType)},
			"graph":      &graphql.Field{Type: graphql.String},
			"certainty":  &graphql.Field{Type: graphql.Float},
			"provenance": &graphql.Field{Type: jsonType},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"statements": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(statementType))),
				Args: graphql.FieldConfigArgument{
					"subjectId":   &graphql.ArgumentConfig{Type: graphql.String},
					"predicateId": &graphql.ArgumentConfig{Type: graphql.String},
					"objectId":    &graphql.ArgumentConfig{Type: graphql.String},
					"objectValue": &graphql.ArgumentConfig{Type: literalType},
					"graph":       &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: resolveStatements,
			},
			"statementCount": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.Int),
				Resolve: resolveStatementCount,
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

func snapshotFrom(p graphql.ResolveParams) ([]a2a.KGStatement, error) {
	snapshot, ok := p.Context.Value(snapshotKey{}).([]a2a.KGStatement)

	if !ok {
		return nil, fmt.Errorf("no statement snapshot bound to the query context")
	}

	return snapshot, nil
}

func resolveStatements(p graphql.ResolveParams) (any, error) {
	snapshot, err := snapshotFrom(p)

	if err != nil {
		return nil, err
	}

	match := filterFromArgs(p.Args)
	views := make([]map[string]any, 0, len(snapshot))

	for i := range snapshot {
		if !match.matchesStatement(&snapshot[i]) {
			continue
		}

		views = append(views, statementView(snapshot[i]))
	}

	return views, nil
}

func resolveStatementCount(p graphql.ResolveParams) (any, error) {
	snapshot, err := snapshotFrom(p)

	if err != nil {
		return nil, err
	}

	return len(snapshot), nil
}

// statementView flattens a statement into the map shape the default
// resolver walks, omitting absent optional fields the way the wire
// form does.
func statementView(st a2a.KGStatement) map[string]any {
	subject := map[string]any{"id": st.Subject.ID}

	if st.Subject.Type != nil {
		subject["type"] = *st.Subject.Type
	}

	object := map[string]any{}

	if st.Object.ID != nil {
		object["id"] = *st.Object.ID
	}
	if st.Object.Value != nil {
		object["value"] = st.Object.Value
	}
	if st.Object.Type != nil {
		object["type"] = *st.Object.Type
	}

	view := map[string]any{
		"subject":   subject,
		"predicate": map[string]any{"id": st.Predicate.ID},
		"object":    object,
	}

	if st.Graph != nil {
		view["graph"] = *st.Graph
	}
	if st.Certainty != nil {
		view["certainty"] = *st.Certainty
	}
	if st.Provenance != nil {
		view["provenance"] = st.Provenance
	}

	return view
}
