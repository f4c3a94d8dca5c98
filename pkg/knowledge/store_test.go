package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
	"github.com/theapemachine/a2a-core/pkg/utils"
)

func newTestStore(t *testing.T, options ...StoreOption) *Store {
	t.Helper()

	store, rpcErr := NewStore(options...)
	require.Nil(t, rpcErr)

	return store
}

func resourceStatement(subject, predicate, object string) a2a.KGStatement {
	return a2a.KGStatement{
		Subject:   a2a.KGSubject{ID: subject},
		Predicate: a2a.KGPredicate{ID: predicate},
		Object:    a2a.KGObject{ID: utils.Ptr(object)},
	}
}

func literalStatement(subject, predicate string, value any) a2a.KGStatement {
	return a2a.KGStatement{
		Subject:   a2a.KGSubject{ID: subject},
		Predicate: a2a.KGPredicate{ID: predicate},
		Object:    a2a.KGObject{Value: value},
	}
}

func addPatch(st a2a.KGStatement) a2a.KnowledgeGraphPatch {
	return a2a.KnowledgeGraphPatch{Op: a2a.PatchOpAdd, Statement: st}
}

func removePatch(st a2a.KGStatement) a2a.KnowledgeGraphPatch {
	return a2a.KnowledgeGraphPatch{Op: a2a.PatchOpRemove, Statement: st}
}

func applyOK(
	t *testing.T, store *Store, patches ...a2a.KnowledgeGraphPatch,
) *a2a.KnowledgeUpdateResult {
	t.Helper()

	result, rpcErr := store.Apply(
		context.Background(), a2a.KnowledgeUpdateParams{Mutations: patches},
	)
	require.Nil(t, rpcErr)

	return result
}

func queryStatements(
	t *testing.T, store *Store, params a2a.KnowledgeQueryParams,
) []any {
	t.Helper()

	result, rpcErr := store.Query(context.Background(), params)
	require.Nil(t, rpcErr)

	data, ok := result.Result["data"].(map[string]any)
	require.True(t, ok, "query returned no data object")

	rows, ok := data["statements"].([]any)
	require.True(t, ok, "query returned no statements list")

	return rows
}

func rowSubject(t *testing.T, row any) string {
	t.Helper()

	fields, ok := row.(map[string]any)
	require.True(t, ok)

	subject, ok := fields["subject"].(map[string]any)
	require.True(t, ok)

	id, _ := subject["id"].(string)

	return id
}

func nextChange(t *testing.T, sub *sse.Subscription) a2a.KnowledgeGraphChangeEvent {
	t.Helper()

	select {
	case event, ok := <-sub.Events:
		require.True(t, ok, "subscription closed before an event arrived")

		var change a2a.KnowledgeGraphChangeEvent
		require.NoError(t, json.Unmarshal(event.Data, &change))

		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change event")
	}

	return a2a.KnowledgeGraphChangeEvent{}
}

func noChange(t *testing.T, sub *sse.Subscription) {
	t.Helper()

	select {
	case event, ok := <-sub.Events:
		if ok {
			t.Fatalf("unexpected change event: %s", event.Data)
		}
	default:
	}
}

func TestSetSemantics(t *testing.T) {
	store := newTestStore(t)
	st := resourceStatement("ex:doc-1", "ex:author", "ex:alice")

	first := applyOK(t, store, addPatch(st))
	require.True(t, first.Success)
	require.Equal(t, 1, first.StatementsAffected)
	require.Equal(t, []string{"ex:doc-1"}, first.AffectedIDs)
	require.Equal(t, a2a.VerificationVerified, first.VerificationStatus)

	again := applyOK(t, store, addPatch(st))
	require.True(t, again.Success)
	require.Equal(t, 0, again.StatementsAffected)
	require.Empty(t, again.AffectedIDs)
	require.Equal(t, 1, store.Statements())

	removed := applyOK(t, store, removePatch(st))
	require.Equal(t, 1, removed.StatementsAffected)
	require.Equal(t, 0, store.Statements())

	gone := applyOK(t, store, removePatch(st))
	require.Equal(t, 0, gone.StatementsAffected)
	require.Empty(t, gone.AffectedIDs)
}

func TestDuplicateAddMergesProvenance(t *testing.T) {
	store := newTestStore(t)

	st := resourceStatement("ex:doc-1", "ex:author", "ex:alice")
	st.Provenance = map[string]any{"source": "crawler"}
	applyOK(t, store, addPatch(st))

	dup := resourceStatement("ex:doc-1", "ex:author", "ex:alice")
	dup.Provenance = map[string]any{"reviewer": "agent-9"}
	result := applyOK(t, store, addPatch(dup))

	require.Equal(t, 0, result.StatementsAffected)
	require.Equal(t, []string{"ex:doc-1"}, result.AffectedIDs)

	rec := store.records[st.Key()]
	require.NotNil(t, rec)
	require.Equal(t, "crawler", rec.statement.Provenance["source"])
	require.Equal(t, "agent-9", rec.statement.Provenance["reviewer"])
}

func TestReplaceSemantics(t *testing.T) {
	store := newTestStore(t)

	applyOK(t, store,
		addPatch(literalStatement("ex:doc-1", "ex:status", "draft")),
		addPatch(literalStatement("ex:doc-1", "ex:status", "review")),
		addPatch(literalStatement("ex:doc-1", "ex:title", "Design notes")),
	)
	require.Equal(t, 3, store.Statements())

	result := applyOK(t, store, a2a.KnowledgeGraphPatch{
		Op:        a2a.PatchOpReplace,
		Statement: literalStatement("ex:doc-1", "ex:status", "final"),
	})

	require.Equal(t, 3, result.StatementsAffected)
	require.Equal(t, 2, store.Statements())

	rows := queryStatements(t, store, a2a.KnowledgeQueryParams{
		Query: `{ statements(predicateId: "ex:status") { object { value } } }`,
	})
	require.Len(t, rows, 1)

	object := rows[0].(map[string]any)["object"].(map[string]any)
	require.Equal(t, "final", object["value"])
}

func TestCertaintyClamps(t *testing.T) {
	store := newTestStore(t)

	over := literalStatement("ex:doc-1", "ex:status", "draft")
	over.Certainty = utils.Ptr(1.7)

	under := literalStatement("ex:doc-2", "ex:status", "draft")
	under.Certainty = utils.Ptr(-0.3)

	applyOK(t, store, addPatch(over), addPatch(under))

	rows := queryStatements(t, store, a2a.KnowledgeQueryParams{
		Query: `{ statements { subject { id } certainty } }`,
	})
	require.Len(t, rows, 2)
	require.Equal(t, 1.0, rows[0].(map[string]any)["certainty"])
	require.Equal(t, 0.0, rows[1].(map[string]any)["certainty"])
}

func TestQueryFiltersCertaintyAndAge(t *testing.T) {
	store := newTestStore(t)

	confident := literalStatement("ex:doc-1", "ex:status", "final")
	confident.Certainty = utils.Ptr(0.9)

	hunch := literalStatement("ex:doc-2", "ex:status", "draft")
	hunch.Certainty = utils.Ptr(0.3)

	unspecified := literalStatement("ex:doc-3", "ex:status", "review")

	stale := literalStatement("ex:doc-4", "ex:status", "archived")
	stale.Certainty = utils.Ptr(0.9)
	stale.Provenance = map[string]any{
		"timestamp": time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
	}

	applyOK(t, store,
		addPatch(confident), addPatch(hunch), addPatch(unspecified), addPatch(stale))

	rows := queryStatements(t, store, a2a.KnowledgeQueryParams{
		Query:             `{ statements { subject { id } } }`,
		RequiredCertainty: utils.Ptr(0.5),
	})
	require.Len(t, rows, 2)
	require.Equal(t, "ex:doc-1", rowSubject(t, rows[0]))
	require.Equal(t, "ex:doc-4", rowSubject(t, rows[1]))

	rows = queryStatements(t, store, a2a.KnowledgeQueryParams{
		Query:         `{ statements { subject { id } } }`,
		MaxAgeSeconds: utils.Ptr(3600),
	})
	require.Len(t, rows, 3)

	for _, row := range rows {
		require.NotEqual(t, "ex:doc-4", rowSubject(t, row))
	}
}

func TestQueryWithVariables(t *testing.T) {
	store := newTestStore(t)

	applyOK(t, store,
		addPatch(literalStatement("ex:alice", "ex:age", 34)),
		addPatch(resourceStatement("ex:alice", "ex:knows", "ex:bob")),
		addPatch(literalStatement("ex:bob", "ex:age", 29)),
	)

	result, rpcErr := store.Query(context.Background(), a2a.KnowledgeQueryParams{
		Query: `query Ages($who: String) {
			statements(subjectId: $who, predicateId: "ex:age") {
				object { value }
				certainty
			}
		}`,
		Variables: map[string]any{"who": "ex:alice"},
	})
	require.Nil(t, rpcErr)

	data := result.Result["data"].(map[string]any)
	rows := data["statements"].([]any)
	require.Len(t, rows, 1)

	fields := rows[0].(map[string]any)
	require.Equal(t, 34, fields["object"].(map[string]any)["value"])
	require.Nil(t, fields["certainty"])

	require.Equal(t, 3, result.QueryMetadata["statementsConsidered"])

	count, rpcErr := store.Query(context.Background(), a2a.KnowledgeQueryParams{
		Query: `{ statementCount }`,
	})
	require.Nil(t, rpcErr)
	require.Equal(t, 3, count.Result["data"].(map[string]any)["statementCount"])
}

func TestQueryRejectsBadDocuments(t *testing.T) {
	store := newTestStore(t)

	_, rpcErr := store.Query(context.Background(), a2a.KnowledgeQueryParams{
		Query: "{{ nope",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrKnowledgeQuery.Code, rpcErr.Code)

	_, rpcErr = store.Query(context.Background(), a2a.KnowledgeQueryParams{
		Query: `{ bogusField }`,
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrKnowledgeQuery.Code, rpcErr.Code)

	_, rpcErr = store.Query(context.Background(), a2a.KnowledgeQueryParams{})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)

	_, rpcErr = store.Query(context.Background(), a2a.KnowledgeQueryParams{
		Query:         `{ statementCount }`,
		QueryLanguage: "sparql",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)
}

func TestUpdateNotifiesMatchingSubscription(t *testing.T) {
	store := newTestStore(t)

	sub, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription Reviews($predicate: String) {
			statementChanged(predicateId: $predicate) { changeId }
		}`,
		Variables: map[string]any{"predicate": "ex:reviewedBy"},
	})
	require.Nil(t, rpcErr)
	require.Equal(t, 1, store.Subscriptions())

	defer sub.Cancel()

	result := applyOK(t, store,
		addPatch(resourceStatement("project-alpha", "ex:reviewedBy", "agent-7")))
	require.True(t, result.Success)
	require.Equal(t, 1, result.StatementsAffected)
	require.Equal(t, a2a.VerificationVerified, result.VerificationStatus)

	change := nextChange(t, sub)
	require.Equal(t, a2a.PatchOpAdd, change.Op)
	require.NotEmpty(t, change.ChangeID)
	require.False(t, change.Timestamp.IsZero())
	require.Equal(t, "project-alpha", change.Statement.Subject.ID)
	require.Equal(t, a2a.VerificationVerified, change.ChangeMetadata["verificationStatus"])

	applyOK(t, store, addPatch(resourceStatement("project-beta", "ex:ownedBy", "agent-3")))
	noChange(t, sub)
}

func TestBatchOrderAndOpFilter(t *testing.T) {
	store := newTestStore(t)

	all, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statementChanged { changeId } }`,
	})
	require.Nil(t, rpcErr)

	removals, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription {
			statementChanged(op: "remove", subjectId: "ex:doc-1") { changeId }
		}`,
	})
	require.Nil(t, rpcErr)

	doc := resourceStatement("ex:doc-1", "ex:author", "ex:alice")
	other := resourceStatement("ex:doc-2", "ex:author", "ex:bob")

	result := applyOK(t, store, addPatch(doc), addPatch(other), removePatch(doc))
	require.Equal(t, 3, result.StatementsAffected)
	require.Equal(t, []string{"ex:doc-1", "ex:doc-2"}, result.AffectedIDs)
	require.Equal(t, 1, store.Statements())

	first := nextChange(t, all)
	second := nextChange(t, all)
	third := nextChange(t, all)

	require.Equal(t, a2a.PatchOpAdd, first.Op)
	require.Equal(t, "ex:doc-1", first.Statement.Subject.ID)
	require.Equal(t, a2a.PatchOpAdd, second.Op)
	require.Equal(t, "ex:doc-2", second.Statement.Subject.ID)
	require.Equal(t, a2a.PatchOpRemove, third.Op)
	require.Equal(t, "ex:doc-1", third.Statement.Subject.ID)

	only := nextChange(t, removals)
	require.Equal(t, a2a.PatchOpRemove, only.Op)
	require.Equal(t, "ex:doc-1", only.Statement.Subject.ID)
	noChange(t, removals)
}

func TestSubscriptionCertaintyFloor(t *testing.T) {
	store := newTestStore(t)

	sub, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statementChanged(predicateId: "ex:status") { changeId } }`,
		RequiredCertainty: utils.Ptr(0.8),
	})
	require.Nil(t, rpcErr)

	weak := literalStatement("ex:doc-1", "ex:status", "draft")
	weak.Certainty = utils.Ptr(0.4)

	strong := literalStatement("ex:doc-2", "ex:status", "final")
	strong.Certainty = utils.Ptr(0.9)

	applyOK(t, store, addPatch(weak), addPatch(strong))

	change := nextChange(t, sub)
	require.Equal(t, "ex:doc-2", change.Statement.Subject.ID)
	noChange(t, sub)
}

func TestSubscribeRejectsBadQueries(t *testing.T) {
	store := newTestStore(t)

	_, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: "{{ nope",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrKnowledgeSubscription.Code, rpcErr.Code)

	_, rpcErr = store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statementChanged(predicateId: $missing) { changeId } }`,
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrKnowledgeSubscription.Code, rpcErr.Code)

	_, rpcErr = store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)

	require.Equal(t, 0, store.Subscriptions())
}

func TestCanceledSubscriptionIsPruned(t *testing.T) {
	store := newTestStore(t)

	sub, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statementChanged { changeId } }`,
	})
	require.Nil(t, rpcErr)

	sub.Cancel()

	applyOK(t, store, addPatch(resourceStatement("ex:doc-1", "ex:author", "ex:alice")))
	require.Equal(t, 0, store.Subscriptions())
}

func TestSubscriberOverflowDisconnects(t *testing.T) {
	store := newTestStore(t)

	sub := sse.NewSubscription("overflow", 2)
	store.subs[&subscription{id: "overflow", match: &filter{}, sub: sub}] = struct{}{}

	for i := 0; i < 4; i++ {
		applyOK(t, store, addPatch(
			resourceStatement(fmt.Sprintf("ex:doc-%d", i), "ex:author", "ex:alice")))
	}

	require.Equal(t, 0, store.Subscriptions())
	require.NotNil(t, sub.Err())
	require.Equal(t, errors.ErrKnowledgeSubscription.Code, sub.Err().Code)

	delivered := 0

	for range sub.Events {
		delivered++
	}

	require.Equal(t, 2, delivered)
}

func TestAlignmentRejectionBlocksBatch(t *testing.T) {
	store := newTestStore(t, denyPredicate("ex:secret"))

	watcher, rpcErr := store.Subscribe(context.Background(), a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statementChanged { changeId } }`,
	})
	require.Nil(t, rpcErr)

	_, rpcErr = store.Apply(context.Background(), a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{
			addPatch(resourceStatement("ex:doc-1", "ex:secret", "ex:classified")),
		},
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrAlignmentViolation.Code, rpcErr.Code)
	require.Contains(t, rpcErr.Message, "ex:secret")

	require.Equal(t, 0, store.Statements())
	noChange(t, watcher)
}

func TestPartialRejectionAppliesAcceptedPatches(t *testing.T) {
	store := newTestStore(t, denyPredicate("ex:secret"))

	result, rpcErr := store.Apply(context.Background(), a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{
			addPatch(resourceStatement("ex:doc-1", "ex:secret", "ex:classified")),
			addPatch(resourceStatement("ex:doc-1", "ex:author", "ex:alice")),
		},
	})
	require.Nil(t, rpcErr)

	require.False(t, result.Success)
	require.Equal(t, 1, result.StatementsAffected)
	require.Contains(t, result.VerificationStatus, "Rejected")
	require.Contains(t, result.VerificationDetails, "mutations[0]")
	require.Equal(t, 1, store.Statements())
}

func TestPendingReviewStillApplies(t *testing.T) {
	store := newTestStore(t, WithVerifier(verdictFunc(
		func(patch a2a.KnowledgeGraphPatch) Decision {
			return Decision{Pending: true, Reason: "low certainty"}
		})))

	result := applyOK(t, store,
		addPatch(resourceStatement("ex:doc-1", "ex:author", "ex:alice")))

	require.True(t, result.Success)
	require.Equal(t, 1, result.StatementsAffected)
	require.Equal(t, a2a.VerificationPendingReview, result.VerificationStatus)
	require.Contains(t, result.VerificationDetails, "low certainty")
	require.Equal(t, 1, store.Statements())
}

func TestUpdateValidation(t *testing.T) {
	store := newTestStore(t)

	_, rpcErr := store.Apply(context.Background(), a2a.KnowledgeUpdateParams{})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)

	both := a2a.KGStatement{
		Subject:   a2a.KGSubject{ID: "ex:doc-1"},
		Predicate: a2a.KGPredicate{ID: "ex:author"},
		Object:    a2a.KGObject{ID: utils.Ptr("ex:alice"), Value: "alice"},
	}

	_, rpcErr = store.Apply(context.Background(), a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{addPatch(both)},
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)

	_, rpcErr = store.Apply(context.Background(), a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{{
			Op:        "merge",
			Statement: resourceStatement("ex:doc-1", "ex:author", "ex:alice"),
		}},
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)
}

func TestUpdateAdapterWire(t *testing.T) {
	store := newTestStore(t)

	raw := json.RawMessage(`{
		"mutations": [{
			"op": "add",
			"statement": {
				"subject": {"id": "ex:doc-1"},
				"predicate": {"id": "ex:status"},
				"object": {"value": "draft"}
			}
		}],
		"sourceAgentId": "agent-7"
	}`)

	result, rpcErr := Update(context.Background(), raw, store)
	require.Nil(t, rpcErr)

	update, ok := result.(*a2a.KnowledgeUpdateResult)
	require.True(t, ok)
	require.True(t, update.Success)
	require.Equal(t, 1, update.StatementsAffected)
	require.Equal(t, []string{"ex:doc-1"}, update.AffectedIDs)

	_, rpcErr = Update(context.Background(), json.RawMessage(`{"mutations":`), store)
	require.NotNil(t, rpcErr)
	require.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)
}
