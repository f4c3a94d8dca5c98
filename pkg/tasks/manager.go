package tasks

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/metrics"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
	"github.com/theapemachine/a2a-core/pkg/stores"
)

// yieldBuffer decouples a producing handler from store and fan-out
// latency without letting it run unboundedly ahead.
const yieldBuffer = 20

// Notifier delivers task events to a registered push webhook.  Nil
// means push notifications are not supported by this server.
type Notifier interface {
	Notify(ctx context.Context, taskID string, event any)
}

/*
Manager drives tasks through their state machine.  It owns the upsert
rules for incoming messages, runs the attached Handler, persists every
transition before fanning it out, and answers the task-scoped RPC
methods.
*/
type Manager struct {
	card     *a2a.AgentCard
	store    stores.TaskStore
	sessions stores.SessionStore
	handler  Handler
	registry *Registry
	hub      *sse.Hub
	notifier Notifier
}

type ManagerOption func(*Manager)

func WithStore(store stores.TaskStore) ManagerOption {
	return func(manager *Manager) {
		manager.store = store
	}
}

func WithSessions(sessions stores.SessionStore) ManagerOption {
	return func(manager *Manager) {
		manager.sessions = sessions
	}
}

func WithHandler(handler Handler) ManagerOption {
	return func(manager *Manager) {
		manager.handler = handler
	}
}

func WithHub(hub *sse.Hub) ManagerOption {
	return func(manager *Manager) {
		manager.hub = hub
	}
}

func WithNotifier(notifier Notifier) ManagerOption {
	return func(manager *Manager) {
		manager.notifier = notifier
	}
}

func NewManager(
	card *a2a.AgentCard, options ...ManagerOption,
) (*Manager, error) {
	manager := &Manager{
		card:     card,
		registry: NewRegistry(),
	}

	for _, option := range options {
		option(manager)
	}

	if manager.store == nil {
		log.Error("missing task store")
		return nil, errors.ErrInternal.WithMessagef("task manager requires a task store")
	}

	if manager.handler == nil {
		log.Error("missing task handler")
		return nil, errors.ErrInternal.WithMessagef("task manager requires a handler")
	}

	return manager, nil
}

// Registry exposes the cancellation registry, mainly to handlers that
// want to inspect it and to tests.
func (manager *Manager) Registry() *Registry {
	return manager.registry
}

/*
SendTask processes a user message synchronously.  The handler runs to
completion before the updated task is returned with its history
trimmed to the caller's historyLength.
*/
func (manager *Manager) SendTask(
	ctx context.Context, params a2a.TaskSendParams,
) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := manager.prepare(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	log.Info("processing task", "task_id", task.ID, "state", task.Status.State)
	manager.execute(context.WithoutCancel(ctx), task, params.Message)

	out := task.Clone()
	out.TrimHistory(params.HistoryLength)

	return out, nil
}

/*
StreamTask processes a user message asynchronously.  The subscription
is attached before the handler starts so the caller observes every
event the run emits.
*/
func (manager *Manager) StreamTask(
	ctx context.Context, params a2a.TaskSendParams,
) (*sse.Subscription, *errors.RpcError) {
	if manager.hub == nil {
		return nil, errors.ErrUnsupportedOperation
	}

	task, rpcErr := manager.prepare(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	subscription := manager.hub.Subscribe(task.ID)

	log.Info("processing task stream", "task_id", task.ID, "state", task.Status.State)
	go manager.execute(context.WithoutCancel(ctx), task, params.Message)

	return subscription, nil
}

// GetTask returns the stored task with history trimmed to the
// caller's historyLength.
func (manager *Manager) GetTask(
	ctx context.Context, params a2a.TaskQueryParams,
) (*a2a.Task, *errors.RpcError) {
	task, loadErr := manager.store.Load(ctx, params.ID)

	if loadErr != nil {
		return nil, loadErr
	}

	task.TrimHistory(params.HistoryLength)

	return task, nil
}

/*
CancelTask requests cancellation.  Canceling an already-canceled task
is idempotent and returns the task unchanged; completed and failed
tasks are not cancelable.  When a handler is running, the engine owns
the final stream frame; otherwise the cancel itself emits it so
attached subscribers are released.
*/
func (manager *Manager) CancelTask(
	ctx context.Context, params a2a.TaskIDParams,
) (*a2a.Task, *errors.RpcError) {
	task, loadErr := manager.store.Load(ctx, params.ID)

	if loadErr != nil {
		return nil, loadErr
	}

	switch task.Status.State {
	case a2a.TaskStateCanceled:
		task.TrimHistory(nil)
		return task, nil
	case a2a.TaskStateCompleted, a2a.TaskStateFailed:
		return nil, errors.ErrTaskNotCancelable.WithData(map[string]any{
			"currentState": string(task.Status.State),
		})
	}

	running := manager.registry.Cancel(params.ID)

	task.ToStatus(a2a.TaskStateCanceled, nil)

	if running {
		// The engine observes the registry at its next yield boundary
		// and emits the final frame itself.
		if saveErr := manager.store.Save(ctx, task); saveErr != nil {
			return nil, saveErr
		}
	} else {
		event := a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}

		if saveErr := manager.persistAndEmit(ctx, task, event, true); saveErr != nil {
			return nil, saveErr
		}
	}

	log.Info("task canceled", "task_id", task.ID, "handler_running", running)

	task = task.Clone()
	task.TrimHistory(nil)

	return task, nil
}

/*
ResubscribeTask attaches a new subscriber to a task's event stream.
A terminal task gets a single final status frame; an active one is
joined in progress with no replay of missed events.
*/
func (manager *Manager) ResubscribeTask(
	ctx context.Context, params a2a.TaskQueryParams,
) (*sse.Subscription, *errors.RpcError) {
	if manager.hub == nil {
		return nil, errors.ErrUnsupportedOperation
	}

	task, loadErr := manager.store.Load(ctx, params.ID)

	if loadErr != nil {
		return nil, loadErr
	}

	if task.Status.State.Terminal() {
		event := a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}
		return sse.Replay(task.ID, event)
	}

	manager.hub.Streams().RecordReconnection()

	return manager.hub.Subscribe(task.ID), nil
}

/*
SetPushConfig registers a webhook for a task.  The stored config is
echoed back on success.
*/
func (manager *Manager) SetPushConfig(
	ctx context.Context, params a2a.TaskPushNotificationConfig,
) (*a2a.TaskPushNotificationConfig, *errors.RpcError) {
	if manager.notifier == nil {
		return nil, errors.ErrPushNotificationsNotSupported
	}

	if params.PushNotificationConfig.URL == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("push notification config requires a url")
	}

	config := params.PushNotificationConfig

	if saveErr := manager.store.SavePushConfig(ctx, params.ID, &config); saveErr != nil {
		return nil, saveErr
	}

	log.Info("push notification config set", "task_id", params.ID, "url", config.URL)

	return &params, nil
}

// GetPushConfig returns the task's webhook config, or nil when none
// is registered.
func (manager *Manager) GetPushConfig(
	ctx context.Context, params a2a.TaskIDParams,
) (*a2a.TaskPushNotificationConfig, *errors.RpcError) {
	if manager.notifier == nil {
		return nil, errors.ErrPushNotificationsNotSupported
	}

	config, loadErr := manager.store.LoadPushConfig(ctx, params.ID)

	if loadErr != nil {
		return nil, loadErr
	}

	if config == nil {
		return nil, nil
	}

	return &a2a.TaskPushNotificationConfig{
		ID:                     params.ID,
		PushNotificationConfig: *config,
	}, nil
}

/*
prepare validates send params and applies the incoming-message rules:
create on first contact, re-open a terminal task as submitted, move
input-required to working, and append the message to history.  The
staged task is persisted before any handler runs.
*/
func (manager *Manager) prepare(
	ctx context.Context, params a2a.TaskSendParams,
) (*a2a.Task, *errors.RpcError) {
	if err := params.Validate(); err != nil {
		return nil, errors.ErrInvalidParams.WithMessagef("%s", err)
	}

	if !manager.supportsOutputModes(params.AcceptedOutputModes) {
		return nil, errors.ErrContentTypeNotSupported.WithData(map[string]any{
			"acceptedOutputModes": params.AcceptedOutputModes,
		})
	}

	if params.PushNotification != nil && manager.notifier == nil {
		return nil, errors.ErrPushNotificationsNotSupported
	}

	if manager.registry.Running(params.ID) {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is already processing, use tasks/resubscribe to attach", params.ID,
		)
	}

	task, rpcErr := manager.upsertTask(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if saveErr := manager.store.Save(ctx, task); saveErr != nil {
		return nil, saveErr
	}

	if params.PushNotification != nil {
		if saveErr := manager.store.SavePushConfig(ctx, params.ID, params.PushNotification); saveErr != nil {
			return nil, saveErr
		}
	}

	if manager.sessions != nil && params.SessionID != "" {
		manager.sessions.AppendTask(params.SessionID, params.ID)
	}

	return task, nil
}

func (manager *Manager) upsertTask(
	ctx context.Context, params a2a.TaskSendParams,
) (*a2a.Task, *errors.RpcError) {
	task, loadErr := manager.store.Load(ctx, params.ID)

	if loadErr != nil {
		if loadErr.Code != errors.ErrTaskNotFound.Code {
			return nil, loadErr
		}

		task = a2a.NewTask(params.ID)
		task.SessionID = params.SessionID
		task.Metadata = params.Metadata
		log.Info("creating new task", "task_id", params.ID, "session_id", params.SessionID)
	} else {
		switch {
		case task.Status.State.Terminal():
			log.Info("re-opening terminal task", "task_id", task.ID, "state", task.Status.State)
			task.ToStatus(a2a.TaskStateSubmitted, nil)
		case task.Status.State == a2a.TaskStateInputReq:
			task.ToStatus(a2a.TaskStateWorking, nil)
		}
	}

	task.History = append(task.History, params.Message)

	return task, nil
}

/*
execute runs the handler and consumes its updates.  Every update is
applied to the task and persisted before the matching event goes out.
The cancellation registry is checked before each yield is consumed.  A
run ends at a terminal yield or at input-required; a handler that
returns without reaching either is forced to completed, and a handler
error converts the task to failed.
*/
func (manager *Manager) execute(ctx context.Context, task *a2a.Task, trigger a2a.Message) {
	handlerCtx, cancel := context.WithCancel(ctx)
	manager.registry.Track(task.ID, cancel)

	defer manager.registry.Untrack(task.ID)
	defer cancel()

	snapshot := task.Clone()

	yields := make(chan YieldUpdate, yieldBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer close(yields)

		errCh <- manager.handler(handlerCtx, TaskContext{
			Task:    *snapshot,
			Message: trigger,
			History: snapshot.History,
		}, yields)
	}()

	finished := false

	for update := range yields {
		if manager.registry.Canceled(task.ID) {
			break
		}

		event, final := manager.apply(task, update)

		if saveErr := manager.persistAndEmit(ctx, task, event, final); saveErr != nil {
			log.Error("failed to persist task update", "task_id", task.ID, "error", saveErr)
			cancel()
			drain(yields)
			<-errCh
			manager.fail(ctx, task, "internal error: failed to persist task state")

			return
		}

		if final {
			finished = true
			cancel()

			break
		}
	}

	drain(yields)
	handlerErr := <-errCh

	if manager.registry.Canceled(task.ID) {
		task.ToStatus(a2a.TaskStateCanceled, nil)
		event := a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}

		if saveErr := manager.persistAndEmit(ctx, task, event, true); saveErr != nil {
			log.Error("failed to persist canceled task", "task_id", task.ID, "error", saveErr)
		}

		log.Info("task handler stopped by cancellation", "task_id", task.ID)

		return
	}

	if handlerErr != nil && !finished && !stderrors.Is(handlerErr, context.Canceled) {
		log.Error("task handler failed", "task_id", task.ID, "error", handlerErr)
		manager.fail(ctx, task, handlerErr.Error())

		return
	}

	if !finished && !task.Status.State.Terminal() {
		task.ToStatus(a2a.TaskStateCompleted, nil)
		event := a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}

		if saveErr := manager.persistAndEmit(ctx, task, event, true); saveErr != nil {
			log.Error("failed to persist completed task", "task_id", task.ID, "error", saveErr)
		}
	}
}

/*
apply folds one yielded update into the task and builds the event that
announces it.  Terminal status updates are final, and so is
input-required: the run pauses there until the next user message, so
the stream closes.  Artifact events carry the artifact as merged into
the task, not the raw delta.
*/
func (manager *Manager) apply(task *a2a.Task, update YieldUpdate) (any, bool) {
	switch u := update.(type) {
	case StatusUpdate:
		task.ToStatus(u.State, u.Message)

		if u.Message != nil {
			task.History = append(task.History, *u.Message)
		}

		final := u.State.Terminal() || u.State == a2a.TaskStateInputReq

		return a2a.TaskStatusUpdateEvent{
			ID:       task.ID,
			Status:   task.Status,
			Final:    final,
			Metadata: u.Metadata,
		}, final
	case ArtifactUpdate:
		merged := task.UpsertArtifact(u.Artifact)

		return a2a.TaskArtifactUpdateEvent{
			ID:       task.ID,
			Artifact: merged,
			Metadata: u.Metadata,
		}, false
	}

	return nil, false
}

// persistAndEmit saves the task, then fans the event out to stream
// subscribers and the push notifier.  Subscribers never observe an
// event for state that is not in the store.
func (manager *Manager) persistAndEmit(
	ctx context.Context, task *a2a.Task, event any, final bool,
) *errors.RpcError {
	if saveErr := manager.store.Save(ctx, task); saveErr != nil {
		return saveErr
	}

	if statusEvent, ok := event.(a2a.TaskStatusUpdateEvent); ok {
		metrics.RecordTaskTransition(string(statusEvent.Status.State))
	}

	if manager.hub != nil {
		manager.hub.Publish(task.ID, event, final)
	}

	if manager.notifier != nil {
		manager.notifier.Notify(ctx, task.ID, event)
	}

	return nil
}

// fail converts the task to failed with the error summary as the
// status message, persisting before the stream closes.
func (manager *Manager) fail(ctx context.Context, task *a2a.Task, summary string) {
	message := a2a.NewTextMessage(a2a.RoleAgent, summary)

	task.ToStatus(a2a.TaskStateFailed, message)
	task.History = append(task.History, *message)

	event := a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}

	if saveErr := manager.persistAndEmit(ctx, task, event, true); saveErr != nil {
		log.Error("failed to persist failed task", "task_id", task.ID, "error", saveErr)
	}
}

// supportsOutputModes checks the caller's accepted media types against
// what the card declares.  An empty list on either side means no
// restriction.
func (manager *Manager) supportsOutputModes(accepted []string) bool {
	if len(accepted) == 0 || manager.card == nil {
		return true
	}

	produced := append([]string{}, manager.card.DefaultOutputModes...)

	for _, skill := range manager.card.Skills {
		produced = append(produced, skill.OutputModes...)
	}

	if len(produced) == 0 {
		return true
	}

	for _, mode := range accepted {
		for _, have := range produced {
			if strings.EqualFold(mode, have) {
				return true
			}
		}
	}

	return false
}

// drain lets the handler goroutine finish sending after the engine
// stopped consuming.
func drain(yields <-chan YieldUpdate) {
	go func() {
		for range yields {
		}
	}()
}
