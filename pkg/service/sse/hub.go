package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/metrics"
)

// Default per-subscriber queue depths.  A subscriber that cannot keep
// up with its queue is disconnected rather than slowing the engine.
const (
	TaskQueueDepth      = 64
	KnowledgeQueueDepth = 1024
)

/*
Event is one frame payload queued to a subscriber.  Data holds the
serialized result object; the stream writer wraps it in the response
envelope of the request that opened the stream, so the hub serializes
each event exactly once regardless of subscriber count.
*/
type Event struct {
	Data  json.RawMessage
	Final bool
}

/*
Subscription is one attached stream consumer.  Events closes after a
final event, after Cancel, or when the subscriber falls behind and is
dropped.  Err reports why a stream died when it was not a clean final
event.
*/
type Subscription struct {
	TaskID string
	Events <-chan Event

	hub    *Hub
	mu     sync.Mutex
	ch     chan Event
	closed bool
	err    *errors.RpcError
}

/*
NewSubscription builds a standalone bounded-queue subscription that is
not managed by a hub.  The knowledge store uses these for its own
per-subscription queues.
*/
func NewSubscription(taskID string, depth int) *Subscription {
	ch := make(chan Event, depth)

	return &Subscription{
		TaskID: taskID,
		Events: ch,
		ch:     ch,
	}
}

// Push enqueues without blocking.  It reports false when the queue is
// full or the subscription is closed.
func (sub *Subscription) Push(event Event) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return false
	}

	select {
	case sub.ch <- event:
		return true
	default:
		return false
	}
}

// Close ends the stream.  Queued events are still delivered before the
// consumer observes the close.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	sub.closed = true
	close(sub.ch)
}

// Fail records a terminal error and closes the stream.  The stream
// writer surfaces the error as the last frame.
func (sub *Subscription) Fail(rpcErr *errors.RpcError) {
	sub.mu.Lock()

	if sub.closed {
		sub.mu.Unlock()
		return
	}

	sub.err = rpcErr
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// Err returns why the stream ended, or nil after a clean close.
func (sub *Subscription) Err() *errors.RpcError {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	return sub.err
}

// Closed reports whether the stream has ended.  Producers that manage
// their own subscriber sets use this to prune dead entries.
func (sub *Subscription) Closed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	return sub.closed
}

/*
Cancel detaches the subscription from its hub, if any, and closes it.
Safe to call after the hub already dropped the subscriber.
*/
func (sub *Subscription) Cancel() {
	if sub.hub != nil {
		sub.hub.unsubscribe(sub)
		return
	}

	sub.Close()
}

/*
Hub fans engine events out to every stream attached to a task.  Each
event is serialized once, then queued per subscriber; a final event
closes and deregisters every subscriber of that task.
*/
type Hub struct {
	mu      sync.Mutex
	tasks   map[string]map[*Subscription]struct{}
	depth   int
	streams *metrics.StreamingMetrics
}

func NewHub() *Hub {
	depth := TaskQueueDepth

	if configured := viper.GetInt("stream.queue_depth"); configured > 0 {
		depth = configured
	}

	return &Hub{
		tasks:   make(map[string]map[*Subscription]struct{}),
		depth:   depth,
		streams: metrics.NewStreamingMetrics(),
	}
}

// Streams exposes the hub's streaming counters.
func (hub *Hub) Streams() *metrics.StreamingMetrics {
	return hub.streams
}

/*
Subscribe attaches a new subscriber to a task's event stream.  Nothing
is replayed: the subscriber sees events emitted after attachment.
*/
func (hub *Hub) Subscribe(taskID string) *Subscription {
	sub := NewSubscription(taskID, hub.depth)
	sub.hub = hub

	hub.mu.Lock()

	if hub.tasks[taskID] == nil {
		hub.tasks[taskID] = make(map[*Subscription]struct{})
	}

	hub.tasks[taskID][sub] = struct{}{}
	hub.mu.Unlock()

	hub.streams.RecordConnection(true, 0)
	metrics.RecordSubscriberAdded()

	return sub
}

// Subscribers reports how many streams are attached to a task.
func (hub *Hub) Subscribers(taskID string) int {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	return len(hub.tasks[taskID])
}

/*
Publish serializes the event once and queues it to every subscriber of
the task.  Subscribers whose queue is full are dropped so a stalled
client never blocks the engine.  A final event closes and deregisters
all subscribers for the task.
*/
func (hub *Hub) Publish(taskID string, event any, final bool) {
	start := time.Now()
	data, err := json.Marshal(event)

	if err != nil {
		log.Error("failed to serialize stream event", "task_id", taskID, "error", err)
		return
	}

	hub.mu.Lock()

	subs := make([]*Subscription, 0, len(hub.tasks[taskID]))

	for sub := range hub.tasks[taskID] {
		subs = append(subs, sub)
	}

	if final {
		delete(hub.tasks, taskID)
	}

	hub.mu.Unlock()

	frame := Event{Data: data, Final: final}

	for _, sub := range subs {
		delivered := sub.Push(frame)
		hub.streams.RecordEvent(!delivered, time.Since(start), 0)

		switch {
		case final:
			sub.Close()
			metrics.RecordSubscriberRemoved()
		case !delivered:
			log.Warn("dropping slow stream subscriber", "task_id", taskID)
			hub.drop(sub)
		}
	}
}

// unsubscribe detaches and closes one subscriber.
func (hub *Hub) unsubscribe(sub *Subscription) {
	hub.mu.Lock()

	subs, ok := hub.tasks[sub.TaskID]

	if ok {
		if _, attached := subs[sub]; attached {
			delete(subs, sub)

			if len(subs) == 0 {
				delete(hub.tasks, sub.TaskID)
			}

			metrics.RecordSubscriberRemoved()
		}
	}

	hub.mu.Unlock()
	sub.Close()
}

// drop removes a subscriber that fell behind and surfaces the reason
// on its stream.
func (hub *Hub) drop(sub *Subscription) {
	hub.mu.Lock()

	subs, ok := hub.tasks[sub.TaskID]

	if ok {
		if _, attached := subs[sub]; attached {
			delete(subs, sub)

			if len(subs) == 0 {
				delete(hub.tasks, sub.TaskID)
			}

			metrics.RecordSubscriberRemoved()
		}
	}

	hub.mu.Unlock()
	sub.Fail(errors.ErrInternal.WithMessagef("stream subscriber fell behind and was disconnected"))
}

/*
Replay builds a closed, single-event subscription.  Resubscribing to a
task that already reached a terminal state gets its final status frame
this way instead of attaching to a live stream.
*/
func Replay(taskID string, event any) (*Subscription, *errors.RpcError) {
	data, err := json.Marshal(event)

	if err != nil {
		log.Error("failed to serialize replay event", "task_id", taskID, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to serialize event")
	}

	sub := NewSubscription(taskID, 1)
	sub.Push(Event{Data: data, Final: true})
	sub.Close()

	return sub, nil
}
