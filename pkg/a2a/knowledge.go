package a2a

import (
	"fmt"
	"time"

	v "github.com/cohesivestack/valgo"
)

/*
KGSubject identifies the resource a statement is about.
*/
type KGSubject struct {
	ID   string  `json:"id"`
	Type *string `json:"type,omitempty"`
}

// KGPredicate is the relation URI of a statement.
type KGPredicate struct {
	ID string `json:"id"`
}

/*
KGObject is a sum type: a resource reference (ID set) xor a literal
(Value set; string, number or boolean).  Validation rejects both-set
and neither-set objects.
*/
type KGObject struct {
	ID    *string `json:"id,omitempty"`
	Value any     `json:"value,omitempty"`
	Type  *string `json:"type,omitempty"`
}

// IsResource reports whether the object references a resource rather
// than carrying a literal.
func (obj *KGObject) IsResource() bool {
	return obj.ID != nil
}

// Term renders the identity-relevant half of the object: the resource
// id, or the literal value formatted canonically.
func (obj *KGObject) Term() string {
	if obj.ID != nil {
		return *obj.ID
	}
	return fmt.Sprintf("%v", obj.Value)
}

/*
KGStatement is one subject-predicate-object triple, optionally scoped
to a named graph and decorated with certainty and provenance.  Absent
certainty means unspecified, not 1.
*/
type KGStatement struct {
	Subject    KGSubject      `json:"subject"`
	Predicate  KGPredicate    `json:"predicate"`
	Object     KGObject       `json:"object"`
	Graph      *string        `json:"graph,omitempty"`
	Certainty  *float64       `json:"certainty,omitempty"`
	Provenance map[string]any `json:"provenance,omitempty"`
}

/*
Key is the statement's identity for remove/replace and for the store's
set semantics: (subject.id, predicate.id, object.id|object.value, graph).
*/
func (st *KGStatement) Key() string {
	graph := ""
	if st.Graph != nil {
		graph = *st.Graph
	}

	return st.Subject.ID + "\x1f" + st.Predicate.ID + "\x1f" + st.Object.Term() + "\x1f" + graph
}

// GroupKey identifies the replace target: all statements sharing
// subject and predicate within the same graph.
func (st *KGStatement) GroupKey() string {
	graph := ""
	if st.Graph != nil {
		graph = *st.Graph
	}

	return st.Subject.ID + "\x1f" + st.Predicate.ID + "\x1f" + graph
}

// Clone deep-copies the statement so stored state never aliases
// caller-held memory.  Object values are scalars, so a value copy of
// the struct covers everything except the pointers and the provenance
// map.
func (st KGStatement) Clone() KGStatement {
	out := st

	if st.Subject.Type != nil {
		typ := *st.Subject.Type
		out.Subject.Type = &typ
	}
	if st.Object.ID != nil {
		id := *st.Object.ID
		out.Object.ID = &id
	}
	if st.Object.Type != nil {
		typ := *st.Object.Type
		out.Object.Type = &typ
	}
	if st.Graph != nil {
		graph := *st.Graph
		out.Graph = &graph
	}
	if st.Certainty != nil {
		certainty := *st.Certainty
		out.Certainty = &certainty
	}
	if st.Provenance != nil {
		out.Provenance = make(map[string]any, len(st.Provenance))
		for k, val := range st.Provenance {
			out.Provenance[k] = val
		}
	}

	return out
}

// Normalize clamps certainty into [0, 1] when present.
func (st *KGStatement) Normalize() {
	if st.Certainty == nil {
		return
	}

	if *st.Certainty < 0 {
		zero := 0.0
		st.Certainty = &zero
	} else if *st.Certainty > 1 {
		one := 1.0
		st.Certainty = &one
	}
}

func (st *KGStatement) Validate() error {
	val := v.Is(
		v.String(st.Subject.ID, "subject.id").Not().Blank(),
		v.String(st.Predicate.ID, "predicate.id").Not().Blank(),
		v.Bool((st.Object.ID != nil) != (st.Object.Value != nil), "object").
			True("object requires exactly one of id or value"),
	)

	if st.Object.Value != nil {
		switch st.Object.Value.(type) {
		case string, bool, float64, float32, int, int32, int64:
		default:
			val.Is(v.Bool(false, "object.value").
				True("object value must be a string, number or boolean"))
		}
	}

	if !val.Valid() {
		return val.Error()
	}

	return nil
}

// Patch operations.
const (
	PatchOpAdd     = "add"
	PatchOpRemove  = "remove"
	PatchOpReplace = "replace"
)

// QueryLanguageGraphQL is the only knowledge query language the wire
// contract currently admits.
const QueryLanguageGraphQL = "graphql"

/*
KnowledgeGraphPatch is one mutation: add, remove, or replace.  Replace
removes every statement matching the subject+predicate (within the
statement's graph) and then adds the new statement.
*/
type KnowledgeGraphPatch struct {
	Op        string      `json:"op"`
	Statement KGStatement `json:"statement"`
}

func (patch *KnowledgeGraphPatch) Validate() error {
	val := v.Is(v.String(patch.Op, "op").InSlice([]string{
		PatchOpAdd, PatchOpRemove, PatchOpReplace,
	}))

	if !val.Valid() {
		return val.Error()
	}

	return patch.Statement.Validate()
}

// KnowledgeQueryParams carries knowledge/query parameters.
type KnowledgeQueryParams struct {
	Query             string         `json:"query"`
	QueryLanguage     string         `json:"queryLanguage,omitempty"`
	Variables         map[string]any `json:"variables,omitempty"`
	TaskID            *string        `json:"taskId,omitempty"`
	SessionID         *string        `json:"sessionId,omitempty"`
	RequiredCertainty *float64       `json:"requiredCertainty,omitempty"`
	MaxAgeSeconds     *int           `json:"maxAgeSeconds,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (params *KnowledgeQueryParams) Validate() error {
	language := params.QueryLanguage

	if language == "" {
		language = QueryLanguageGraphQL
	}

	val := v.Is(
		v.String(params.Query, "query").Not().Blank(),
		v.String(language, "queryLanguage").InSlice([]string{QueryLanguageGraphQL}),
	)

	if !val.Valid() {
		return val.Error()
	}

	return nil
}

// KnowledgeQueryResult echoes GraphQL's {data, errors?} shape under
// Result, plus optional executor metadata.
type KnowledgeQueryResult struct {
	Result        map[string]any `json:"result"`
	QueryMetadata map[string]any `json:"queryMetadata,omitempty"`
}

// KnowledgeUpdateParams carries knowledge/update parameters.
type KnowledgeUpdateParams struct {
	Mutations     []KnowledgeGraphPatch `json:"mutations"`
	TaskID        *string               `json:"taskId,omitempty"`
	SessionID     *string               `json:"sessionId,omitempty"`
	SourceAgentID *string               `json:"sourceAgentId,omitempty"`
	Justification *string               `json:"justification,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
}

func (params *KnowledgeUpdateParams) Validate() error {
	val := v.Is(v.Number(len(params.Mutations), "mutations").
		GreaterThan(0, "update requires at least one mutation"))

	if !val.Valid() {
		return val.Error()
	}

	for i := range params.Mutations {
		if err := params.Mutations[i].Validate(); err != nil {
			return fmt.Errorf("mutations[%d]: %w", i, err)
		}
	}

	return nil
}

// KnowledgeUpdateResult reports what a knowledge/update call did.
type KnowledgeUpdateResult struct {
	Success             bool     `json:"success"`
	StatementsAffected  int      `json:"statementsAffected"`
	AffectedIDs         []string `json:"affectedIds,omitempty"`
	VerificationStatus  string   `json:"verificationStatus,omitempty"`
	VerificationDetails string   `json:"verificationDetails,omitempty"`
}

// KnowledgeSubscribeParams carries knowledge/subscribe parameters.
type KnowledgeSubscribeParams struct {
	SubscriptionQuery string         `json:"subscriptionQuery"`
	QueryLanguage     string         `json:"queryLanguage,omitempty"`
	Variables         map[string]any `json:"variables,omitempty"`
	TaskID            *string        `json:"taskId,omitempty"`
	SessionID         *string        `json:"sessionId,omitempty"`
	RequiredCertainty *float64       `json:"requiredCertainty,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (params *KnowledgeSubscribeParams) Validate() error {
	language := params.QueryLanguage

	if language == "" {
		language = QueryLanguageGraphQL
	}

	val := v.Is(
		v.String(params.SubscriptionQuery, "subscriptionQuery").Not().Blank(),
		v.String(language, "queryLanguage").InSlice([]string{QueryLanguageGraphQL}),
	)

	if !val.Valid() {
		return val.Error()
	}

	return nil
}

/*
KnowledgeGraphChangeEvent is one committed patch, streamed to every
subscription whose query it satisfies.  ChangeId is unique per event
so downstream consumers can deduplicate across redeliveries.
*/
type KnowledgeGraphChangeEvent struct {
	Op             string         `json:"op"`
	Statement      KGStatement    `json:"statement"`
	ChangeID       string         `json:"changeId"`
	Timestamp      time.Time      `json:"timestamp"`
	ChangeMetadata map[string]any `json:"changeMetadata,omitempty"`
}

// Verification outcomes reported by knowledge/update.
const (
	VerificationVerified      = "Verified"
	VerificationPendingReview = "Pending Review"
)

// VerificationRejected renders the rejection outcome for a reason.
func VerificationRejected(reason string) string {
	return "Rejected — " + reason
}
