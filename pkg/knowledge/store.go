package knowledge

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/metrics"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
)

// record is one stored statement plus the bookkeeping the query
// filters need.
type record struct {
	statement a2a.KGStatement
	addedAt   time.Time
	seq       uint64
}

// observedAt is the timestamp the max-age filter measures from: the
// statement's provenance timestamp when one parses, otherwise the
// moment the store accepted it.
func (rec *record) observedAt() time.Time {
	if raw, ok := rec.statement.Provenance["timestamp"]; ok {
		switch value := raw.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				return parsed
			}
		case float64:
			return time.Unix(int64(value), 0)
		}
	}

	return rec.addedAt
}

/*
Store is the in-memory knowledge graph: a set of statements keyed by
their identity tuple, a GraphQL engine over point-in-time snapshots,
and the subscription registry change events fan out through.  All
mutations from one update commit under a single lock acquisition, so
readers never observe a partially applied batch and subscribers see
events from consecutive updates in order.
*/
type Store struct {
	mu       sync.RWMutex
	records  map[string]*record
	seq      uint64
	verifier Verifier
	schema   graphql.Schema
	subs     map[*subscription]struct{}
	now      func() time.Time
}

type StoreOption func(*Store)

// WithVerifier replaces the config-driven policy verifier.
func WithVerifier(verifier Verifier) StoreOption {
	return func(store *Store) {
		store.verifier = verifier
	}
}

func NewStore(options ...StoreOption) (*Store, *errors.RpcError) {
	schema, err := buildSchema()

	if err != nil {
		log.Error("failed to build knowledge schema", "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to build knowledge schema")
	}

	store := &Store{
		records:  make(map[string]*record),
		verifier: NewPolicyVerifier(),
		schema:   schema,
		subs:     make(map[*subscription]struct{}),
		now:      time.Now,
	}

	for _, option := range options {
		option(store)
	}

	return store, nil
}

// Statements reports how many statements the store currently holds.
func (store *Store) Statements() int {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return len(store.records)
}

// Subscriptions reports how many live subscriptions are attached.
func (store *Store) Subscriptions() int {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return len(store.subs)
}

/*
Query executes a GraphQL query against a snapshot of the store.  The
certainty and age filters narrow the snapshot before execution, so a
statement below the floor is invisible to every part of the query.
*/
func (store *Store) Query(
	ctx context.Context, params a2a.KnowledgeQueryParams,
) (*a2a.KnowledgeQueryResult, *errors.RpcError) {
	if err := params.Validate(); err != nil {
		metrics.RecordKnowledgeOp("query", false)
		return nil, errors.ErrInvalidParams.WithMessagef("%s", err)
	}

	start := time.Now()
	snapshot, total := store.snapshot(params.RequiredCertainty, params.MaxAgeSeconds)

	result := graphql.Do(graphql.Params{
		Schema:         store.schema,
		RequestString:  params.Query,
		VariableValues: params.Variables,
		Context:        context.WithValue(ctx, snapshotKey{}, snapshot),
	})

	// A request that produced no data at all failed outright; partial
	// results travel back with their errors attached, per GraphQL
	// convention.
	if result.HasErrors() && result.Data == nil {
		metrics.RecordKnowledgeOp("query", false)
		return nil, errors.ErrKnowledgeQuery.WithMessagef("%s", result.Errors[0].Message)
	}

	body := map[string]any{"data": result.Data}

	if result.HasErrors() {
		queryErrors := make([]any, 0, len(result.Errors))

		for _, qErr := range result.Errors {
			queryErrors = append(queryErrors, map[string]any{"message": qErr.Message})
		}

		body["errors"] = queryErrors
	}

	metrics.RecordKnowledgeOp("query", true)

	return &a2a.KnowledgeQueryResult{
		Result: body,
		QueryMetadata: map[string]any{
			"statementsConsidered": len(snapshot),
			"statementsTotal":      total,
			"durationMs":           float64(time.Since(start).Microseconds()) / 1000.0,
		},
	}, nil
}

// snapshot clones the statements that survive the certainty and age
// filters, in insertion order.
func (store *Store) snapshot(
	required *float64, maxAge *int,
) (kept []a2a.KGStatement, total int) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	records := make([]*record, 0, len(store.records))

	for _, rec := range store.records {
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b *record) int {
		return cmp.Compare(a.seq, b.seq)
	})

	total = len(records)
	now := store.now()
	kept = make([]a2a.KGStatement, 0, len(records))

	for _, rec := range records {
		if required != nil {
			certainty := rec.statement.Certainty

			if certainty == nil || *certainty < *required {
				continue
			}
		}

		if maxAge != nil && now.Sub(rec.observedAt()) > time.Duration(*maxAge)*time.Second {
			continue
		}

		kept = append(kept, rec.statement.Clone())
	}

	return kept, total
}

/*
Apply validates, verifies and commits a batch of mutations.  Accepted
patches land atomically and each one produces exactly one change event
on every subscription it matches.  A batch the policy rejects in full
surfaces as an alignment violation and changes nothing.
*/
func (store *Store) Apply(
	ctx context.Context, params a2a.KnowledgeUpdateParams,
) (*a2a.KnowledgeUpdateResult, *errors.RpcError) {
	if err := params.Validate(); err != nil {
		metrics.RecordKnowledgeOp("update", false)
		return nil, errors.ErrInvalidParams.WithMessagef("%s", err)
	}

	mutations := make([]a2a.KnowledgeGraphPatch, len(params.Mutations))

	for i, patch := range params.Mutations {
		patch.Statement = patch.Statement.Clone()
		patch.Statement.Normalize()
		mutations[i] = patch
	}

	accepted := make([]a2a.KnowledgeGraphPatch, 0, len(mutations))

	var rejected, pending []string

	for i, patch := range mutations {
		decision := store.verifier.Verify(ctx, patch, params)

		switch {
		case decision.Rejected:
			rejected = append(rejected, fmt.Sprintf("mutations[%d]: %s", i, decision.Reason))
		case decision.Pending:
			pending = append(pending, fmt.Sprintf("mutations[%d]: %s", i, decision.Reason))
			accepted = append(accepted, patch)
		default:
			accepted = append(accepted, patch)
		}
	}

	if len(rejected) == len(mutations) {
		metrics.RecordKnowledgeOp("update", false)
		return nil, errors.ErrAlignmentViolation.WithMessagef(
			"%s", strings.Join(rejected, "; "),
		)
	}

	status := a2a.VerificationVerified
	details := ""

	switch {
	case len(rejected) > 0:
		status = a2a.VerificationRejected(fmt.Sprintf(
			"%d of %d mutations rejected by policy", len(rejected), len(mutations),
		))
		details = strings.Join(rejected, "; ")
	case len(pending) > 0:
		status = a2a.VerificationPendingReview
		details = strings.Join(pending, "; ")
	}

	changeMeta := changeMetadata(params, status)

	store.mu.Lock()

	var (
		affectedCount int
		entityIDs     []string
		seen          = make(map[string]struct{})
		events        = make([]a2a.KnowledgeGraphChangeEvent, 0, len(accepted))
	)

	for _, patch := range accepted {
		var touched bool

		switch patch.Op {
		case a2a.PatchOpAdd:
			added, mutated := store.applyAdd(patch.Statement)

			if added {
				affectedCount++
			}

			touched = added || mutated
		case a2a.PatchOpRemove:
			removed := store.applyRemove(patch.Statement)
			affectedCount += removed
			touched = removed > 0
		case a2a.PatchOpReplace:
			removed, added := store.applyReplace(patch.Statement)
			affectedCount += removed

			if added {
				affectedCount++
			}

			touched = true
		}

		if touched {
			subject := patch.Statement.Subject.ID

			if _, dup := seen[subject]; !dup {
				seen[subject] = struct{}{}
				entityIDs = append(entityIDs, subject)
			}
		}

		events = append(events, a2a.KnowledgeGraphChangeEvent{
			Op:             patch.Op,
			Statement:      patch.Statement,
			ChangeID:       uuid.NewString(),
			Timestamp:      store.now(),
			ChangeMetadata: changeMeta,
		})
	}

	statementCount := len(store.records)
	store.publishLocked(events)
	store.mu.Unlock()

	metrics.SetKnowledgeStatements(statementCount)
	metrics.RecordKnowledgeOp("update", true)

	log.Info("knowledge update applied",
		"mutations", len(mutations),
		"affected", affectedCount,
		"status", status)

	return &a2a.KnowledgeUpdateResult{
		Success:             len(rejected) == 0,
		StatementsAffected:  affectedCount,
		AffectedIDs:         entityIDs,
		VerificationStatus:  status,
		VerificationDetails: details,
	}, nil
}

// applyAdd inserts a statement, or merges provenance into an existing
// identical one.  Callers hold the write lock.
func (store *Store) applyAdd(st a2a.KGStatement) (added, mutated bool) {
	key := st.Key()

	if existing, ok := store.records[key]; ok {
		if len(st.Provenance) == 0 {
			return false, false
		}

		if existing.statement.Provenance == nil {
			existing.statement.Provenance = make(map[string]any, len(st.Provenance))
		}

		for k, value := range st.Provenance {
			existing.statement.Provenance[k] = value
		}

		return false, true
	}

	store.seq++
	store.records[key] = &record{
		statement: st.Clone(),
		addedAt:   store.now(),
		seq:       store.seq,
	}

	return true, false
}

// applyRemove deletes the statement with the same identity tuple.
// Callers hold the write lock.
func (store *Store) applyRemove(st a2a.KGStatement) int {
	key := st.Key()

	if _, ok := store.records[key]; !ok {
		return 0
	}

	delete(store.records, key)

	return 1
}

// applyReplace removes every statement sharing the subject and
// predicate within the statement's graph, then adds the new one.
// Callers hold the write lock.
func (store *Store) applyReplace(st a2a.KGStatement) (removed int, added bool) {
	group := st.GroupKey()

	for key, rec := range store.records {
		if rec.statement.GroupKey() == group {
			delete(store.records, key)
			removed++
		}
	}

	added, _ = store.applyAdd(st)

	return removed, added
}

/*
Subscribe compiles the subscription document into a predicate and
registers a bounded queue for it.  The caller consumes change events
from the returned subscription until it cancels or falls behind.
*/
func (store *Store) Subscribe(
	ctx context.Context, params a2a.KnowledgeSubscribeParams,
) (*sse.Subscription, *errors.RpcError) {
	if err := params.Validate(); err != nil {
		metrics.RecordKnowledgeOp("subscribe", false)
		return nil, errors.ErrInvalidParams.WithMessagef("%s", err)
	}

	match, err := compileSubscription(params.SubscriptionQuery, params.Variables)

	if err != nil {
		metrics.RecordKnowledgeOp("subscribe", false)
		return nil, errors.ErrKnowledgeSubscription.WithMessagef("%s", err)
	}

	id := uuid.NewString()
	sub := sse.NewSubscription(id, sse.KnowledgeQueueDepth)

	entry := &subscription{
		id:    id,
		match: match,
		sub:   sub,
	}

	if params.RequiredCertainty != nil {
		certainty := *params.RequiredCertainty
		entry.requiredCertainty = &certainty
	}

	store.mu.Lock()
	store.subs[entry] = struct{}{}
	store.mu.Unlock()

	metrics.RecordKnowledgeOp("subscribe", true)
	log.Info("knowledge subscription attached", "subscription_id", id)

	return sub, nil
}

// publishLocked fans change events out to every matching subscription.
// Callers hold the write lock, which is what orders events from
// consecutive updates.
func (store *Store) publishLocked(events []a2a.KnowledgeGraphChangeEvent) {
	for i := range events {
		data, err := json.Marshal(&events[i])

		if err != nil {
			log.Error("failed to serialize change event",
				"change_id", events[i].ChangeID, "error", err)
			continue
		}

		for entry := range store.subs {
			if entry.sub.Closed() {
				delete(store.subs, entry)
				continue
			}

			if !entry.matches(&events[i]) {
				continue
			}

			if !entry.sub.Push(sse.Event{Data: data}) {
				log.Warn("dropping slow knowledge subscriber", "subscription_id", entry.id)
				entry.sub.Fail(errors.ErrKnowledgeSubscription.WithMessagef(
					"subscriber fell behind and was disconnected"))
				delete(store.subs, entry)
			}
		}
	}
}

// changeMetadata builds the metadata stamped on every change event a
// single update produces.
func changeMetadata(params a2a.KnowledgeUpdateParams, status string) map[string]any {
	meta := map[string]any{"verificationStatus": status}

	if params.TaskID != nil {
		meta["taskId"] = *params.TaskID
	}
	if params.SessionID != nil {
		meta["sessionId"] = *params.SessionID
	}
	if params.SourceAgentID != nil {
		meta["sourceAgentId"] = *params.SourceAgentID
	}

	return meta
}
