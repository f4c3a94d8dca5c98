package knowledge

import (
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
)

/*
filter is a compiled statement predicate.  Queries compile one from
resolver arguments, subscriptions compile one from the subscription
document; both match the same way.  Nil fields match anything.
*/
type filter struct {
	subjectID   *string
	predicateID *string
	objectID    *string
	objectValue any
	graph       *string
	op          *string
}

func (match *filter) matchesStatement(st *a2a.KGStatement) bool {
	if match.subjectID != nil && st.Subject.ID != *match.subjectID {
		return false
	}

	if match.predicateID != nil && st.Predicate.ID != *match.predicateID {
		return false
	}

	if match.objectID != nil {
		if st.Object.ID == nil || *st.Object.ID != *match.objectID {
			return false
		}
	}

	if match.objectValue != nil && !literalEqual(st.Object.Value, match.objectValue) {
		return false
	}

	if match.graph != nil {
		graph := ""

		if st.Graph != nil {
			graph = *st.Graph
		}

		if graph != *match.graph {
			return false
		}
	}

	return true
}

func (match *filter) matchesChange(event *a2a.KnowledgeGraphChangeEvent) bool {
	if match.op != nil && event.Op != *match.op {
		return false
	}

	return match.matchesStatement(&event.Statement)
}

// filterFromArgs compiles a filter from resolver arguments.  Absent or
// null arguments leave the corresponding dimension unconstrained.
func filterFromArgs(args map[string]any) *filter {
	match := &filter{}

	if value, ok := args["subjectId"].(string); ok {
		match.subjectID = &value
	}
	if value, ok := args["predicateId"].(string); ok {
		match.predicateID = &value
	}
	if value, ok := args["objectId"].(string); ok {
		match.objectID = &value
	}
	if value, ok := args["graph"].(string); ok {
		match.graph = &value
	}
	if value, ok := args["objectValue"]; ok && value != nil {
		match.objectValue = value
	}

	return match
}

/*
compileSubscription parses a GraphQL subscription document and turns
the arguments of its first field selection into a filter.  Real
subscription execution is not required for matching: the store
evaluates the compiled predicate against each committed change.
*/
func compileSubscription(query string, variables map[string]any) (*filter, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})

	if err != nil {
		return nil, fmt.Errorf("subscription query does not parse: %w", err)
	}

	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)

		if !ok || op.SelectionSet == nil {
			continue
		}

		// Shorthand documents parse as queries; accept those alongside
		// explicit subscription operations.
		if op.Operation != ast.OperationTypeSubscription &&
			op.Operation != ast.OperationTypeQuery {
			continue
		}

		for _, selection := range op.SelectionSet.Selections {
			field, ok := selection.(*ast.Field)

			if !ok {
				continue
			}

			return filterFromField(field, variables)
		}
	}

	return nil, fmt.Errorf("subscription query selects no field")
}

func filterFromField(field *ast.Field, variables map[string]any) (*filter, error) {
	match := &filter{}

	for _, arg := range field.Arguments {
		if arg.Name == nil {
			continue
		}

		value, err := argumentValue(arg.Value, variables)

		if err != nil {
			return nil, err
		}

		if value == nil {
			continue
		}

		name := arg.Name.Value

		switch name {
		case "subjectId":
			str, err := stringArgument(name, value)

			if err != nil {
				return nil, err
			}

			match.subjectID = &str
		case "predicateId":
			str, err := stringArgument(name, value)

			if err != nil {
				return nil, err
			}

			match.predicateID = &str
		case "objectId":
			str, err := stringArgument(name, value)

			if err != nil {
				return nil, err
			}

			match.objectID = &str
		case "graph":
			str, err := stringArgument(name, value)

			if err != nil {
				return nil, err
			}

			match.graph = &str
		case "op":
			str, err := stringArgument(name, value)

			if err != nil {
				return nil, err
			}

			match.op = &str
		case "objectValue":
			match.objectValue = value
		default:
			return nil, fmt.Errorf("unsupported subscription filter argument %q", name)
		}
	}

	return match, nil
}

// argumentValue resolves one argument to a Go value, looking variables
// up in the bindings supplied with the subscription.
func argumentValue(value ast.Value, variables map[string]any) (any, error) {
	switch typed := value.(type) {
	case *ast.Variable:
		if typed.Name == nil {
			return nil, fmt.Errorf("variable argument carries no name")
		}

		resolved, ok := variables[typed.Name.Value]

		if !ok {
			return nil, fmt.Errorf("subscription variable $%s is not bound", typed.Name.Value)
		}

		return resolved, nil
	case *ast.StringValue:
		return typed.Value, nil
	case *ast.BooleanValue:
		return typed.Value, nil
	case *ast.EnumValue:
		return typed.Value, nil
	case *ast.IntValue:
		parsed, err := strconv.ParseFloat(typed.Value, 64)

		if err != nil {
			return nil, fmt.Errorf("malformed numeric literal %q", typed.Value)
		}

		return parsed, nil
	case *ast.FloatValue:
		parsed, err := strconv.ParseFloat(typed.Value, 64)

		if err != nil {
			return nil, fmt.Errorf("malformed numeric literal %q", typed.Value)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported argument value kind %s", value.GetKind())
	}
}

func stringArgument(name string, value any) (string, error) {
	str, ok := value.(string)

	if !ok {
		return "", fmt.Errorf("subscription argument %s must be a string", name)
	}

	return str, nil
}

// literalEqual compares two object literals, treating every numeric
// representation as the same number.
func literalEqual(stored, want any) bool {
	storedNum, storedOK := toFloat(stored)
	wantNum, wantOK := toFloat(want)

	if storedOK && wantOK {
		return storedNum == wantNum
	}

	if storedOK != wantOK {
		return false
	}

	return stored == want
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}

	return 0, false
}

/*
subscription is one live knowledge/subscribe consumer: the compiled
predicate plus the bounded queue frames are delivered on.
*/
type subscription struct {
	id                string
	match             *filter
	requiredCertainty *float64
	sub               *sse.Subscription
}

func (entry *subscription) matches(event *a2a.KnowledgeGraphChangeEvent) bool {
	if entry.requiredCertainty != nil {
		certainty := event.Statement.Certainty

		if certainty == nil || *certainty < *entry.requiredCertainty {
			return false
		}
	}

	return entry.match.matchesChange(event)
}
