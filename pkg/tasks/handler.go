package tasks

import (
	"context"

	"github.com/theapemachine/a2a-core/pkg/a2a"
)

/*
Handler is the agent logic attached to a server.  The engine invokes
it once per triggering user message and consumes updates from yield
until the handler returns.  The context is canceled when the task is
canceled or the server shuts down; a handler must observe it on its
own suspension points and return promptly once it is done.

Closing the yield channel is the engine's job, never the handler's.
*/
type Handler func(ctx context.Context, task TaskContext, yield chan<- YieldUpdate) error

/*
TaskContext is the snapshot handed to a handler.  Task and History are
deep copies: mutating them has no effect on the stored task.  All
externally visible changes flow through yielded updates.
*/
type TaskContext struct {
	// Task as it stood when the handler was invoked, trigger message
	// included.
	Task a2a.Task
	// Message that triggered this run.
	Message a2a.Message
	// History is the full message history, oldest first.
	History []a2a.Message
}

// YieldUpdate is either a StatusUpdate or an ArtifactUpdate.
type YieldUpdate interface {
	yieldUpdate()
}

/*
StatusUpdate transitions the task to a new state.  An optional agent
message travels with the transition; the engine appends it to the task
history exactly once, at the yield that carries it.  Yielding a
terminal state ends the run, as does input-required, which pauses the
task until the next user message.
*/
type StatusUpdate struct {
	State    a2a.TaskState
	Message  *a2a.Message
	Metadata map[string]any
}

// ArtifactUpdate adds or amends a task artifact.  It never changes the
// task state.
type ArtifactUpdate struct {
	Artifact a2a.Artifact
	Metadata map[string]any
}

func (StatusUpdate) yieldUpdate()   {}
func (ArtifactUpdate) yieldUpdate() {}
