package a2a

import (
	"encoding/json"
	"time"

	v "github.com/cohesivestack/valgo"
)

/*
Task is the central unit of work exchanged between agents.  It is a
plain data carrier: all state transitions go through the task engine,
all persistence through a TaskStore.
*/
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewTask(id string) *Task {
	return &Task{
		ID: id,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: time.Now(),
		},
	}
}

func NewTaskFromRequest(body []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

/*
ToStatus transitions the task, stamping the server clock.  Timestamps
never move backwards even when the wall clock does.
*/
func (task *Task) ToStatus(state TaskState, message *Message) {
	now := time.Now()
	if now.Before(task.Status.Timestamp) {
		now = task.Status.Timestamp
	}

	task.Status.State = state
	task.Status.Timestamp = now
	task.Status.Message = message
}

func (task *Task) LastMessage() *Message {
	if len(task.History) == 0 {
		return nil
	}

	return &task.History[len(task.History)-1]
}

// Clone returns a deep copy safe to hand to callers while the engine
// keeps mutating the original.
func (task *Task) Clone() *Task {
	out := *task

	if task.History != nil {
		out.History = make([]Message, len(task.History))
		copy(out.History, task.History)
	}

	if task.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(task.Artifacts))
		for i := range task.Artifacts {
			out.Artifacts[i] = task.Artifacts[i].Clone()
		}
	}

	if task.Metadata != nil {
		out.Metadata = make(map[string]any, len(task.Metadata))
		for k, val := range task.Metadata {
			out.Metadata[k] = val
		}
	}

	if task.Status.Message != nil {
		msg := *task.Status.Message
		out.Status.Message = &msg
	}

	return &out
}

/*
TrimHistory applies the caller's historyLength: nil or zero strips the
history from the response entirely, a positive n keeps the last n
messages.
*/
func (task *Task) TrimHistory(historyLength *int) {
	if historyLength == nil || *historyLength <= 0 {
		task.History = nil
		return
	}

	if n := *historyLength; len(task.History) > n {
		task.History = task.History[len(task.History)-n:]
	}
}

/*
TaskStatusUpdateEvent is sent when the agent wishes to inform the client
of a status transition.  Final marks the last event of a stream.
*/
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

/*
TaskArtifactUpdateEvent is emitted when a new or updated artifact is
available for a task.
*/
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact Artifact       `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskSendParams carries tasks/send and tasks/sendSubscribe parameters.
type TaskSendParams struct {
	// ID is the unique identifier for the task being initiated or continued.
	ID string `json:"id"`
	// SessionID optionally groups related tasks.
	SessionID string `json:"sessionId,omitempty"`
	// Message is the user message to process.
	Message Message `json:"message"`
	// AcceptedOutputModes restricts the media types the client accepts back.
	AcceptedOutputModes []string `json:"acceptedOutputModes,omitempty"`
	// PushNotification optionally registers a webhook for this task.
	PushNotification *PushNotificationConfig `json:"pushNotification,omitempty"`
	// HistoryLength controls history truncation on the response.
	HistoryLength *int `json:"historyLength,omitempty"`
	// Metadata is an opaque bag for auth tokens, provenance, alignment context.
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (params *TaskSendParams) Validate() error {
	val := v.Is(v.String(params.ID, "id").Not().Blank())

	if !val.Valid() {
		return val.Error()
	}

	return params.Message.Validate()
}

// TaskIDParams is the base parameter shape for id-keyed operations.
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams adds history truncation to an id-keyed read.
type TaskQueryParams struct {
	TaskIDParams
	HistoryLength *int `json:"historyLength,omitempty"`
}

// PushNotificationConfig tells the server where to POST task updates.
type PushNotificationConfig struct {
	URL            string               `json:"url"`
	Token          *string              `json:"token,omitempty"`
	Authentication *AgentAuthentication `json:"authentication,omitempty"`
}

// TaskPushNotificationConfig binds a push config to a task id.  It is
// both the tasks/pushNotification/set parameter and its echoed result.
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}
