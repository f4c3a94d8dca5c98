package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
)

func TestSendSubscribeStreams(t *testing.T) {
	srv := newTestServer(t, chunkedHandler, nil)

	resp := postRPC(t, srv, rpcBody(t, 7, a2a.MethodTaskSendSubscribe, sendParams("task-s1", "stream it")))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	frames := sseFrames(t, readBody(t, resp))
	require.Len(t, frames, 4)

	for _, frame := range frames {
		assert.Equal(t, "7", string(frame.ID))
		require.Nil(t, frame.Error)
	}

	var working a2a.TaskStatusUpdateEvent
	require.NoError(t, json.Unmarshal(frames[0].Result, &working))
	assert.Equal(t, "task-s1", working.ID)
	assert.Equal(t, a2a.TaskStateWorking, working.Status.State)
	assert.False(t, working.Final)

	var first a2a.TaskArtifactUpdateEvent
	require.NoError(t, json.Unmarshal(frames[1].Result, &first))
	require.Len(t, first.Artifact.Parts, 1)
	assert.Equal(t, "AB", first.Artifact.Parts[0].Text)

	// The second artifact frame carries the artifact as merged into the
	// task, not the bare delta.
	var merged a2a.TaskArtifactUpdateEvent
	require.NoError(t, json.Unmarshal(frames[2].Result, &merged))
	require.Len(t, merged.Artifact.Parts, 2)
	assert.Equal(t, "AB", merged.Artifact.Parts[0].Text)
	assert.Equal(t, "CD", merged.Artifact.Parts[1].Text)
	require.NotNil(t, merged.Artifact.LastChunk)
	assert.True(t, *merged.Artifact.LastChunk)

	var final a2a.TaskStatusUpdateEvent
	require.NoError(t, json.Unmarshal(frames[3].Result, &final))
	assert.Equal(t, a2a.TaskStateCompleted, final.Status.State)
	assert.True(t, final.Final)
}

func TestResubscribeTerminalTaskReplays(t *testing.T) {
	srv := newTestServer(t, echoHandler, nil)

	_, out := call(t, srv, a2a.MethodTaskSend, sendParams("task-s2", "finish first"))
	require.Nil(t, out.Error)

	resp := postRPC(t, srv, rpcBody(t, 9, a2a.MethodTaskResubscribe, map[string]any{"id": "task-s2"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := sseFrames(t, readBody(t, resp))
	require.Len(t, frames, 1)
	assert.Equal(t, "9", string(frames[0].ID))

	var event a2a.TaskStatusUpdateEvent
	require.NoError(t, json.Unmarshal(frames[0].Result, &event))
	assert.Equal(t, a2a.TaskStateCompleted, event.Status.State)
	assert.True(t, event.Final)
}

func TestResubscribeUnknownTask(t *testing.T) {
	srv := newTestServer(t, echoHandler, nil)

	resp, out := call(t, srv, a2a.MethodTaskResubscribe, map[string]any{"id": "never-sent"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, errors.ErrTaskNotFound.Code, out.Error.Code)
}

func TestStreamErrorFrame(t *testing.T) {
	srv := newTestServer(t, echoHandler, nil)

	subscription := sse.NewSubscription("task-s3", 4)

	payload, err := json.Marshal(a2a.TaskStatusUpdateEvent{
		ID:     "task-s3",
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
	})
	require.NoError(t, err)

	subscription.Push(sse.Event{Data: payload})
	subscription.Fail(errors.ErrKnowledgeSubscription.WithMessagef("subscriber fell behind"))

	srv.app.Get("/stream-error", func(ctx fiber.Ctx) error {
		return srv.streamResponse(ctx, json.RawMessage("3"), subscription)
	})

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/stream-error", nil))
	require.NoError(t, err)

	frames := sseFrames(t, readBody(t, resp))
	require.Len(t, frames, 2)

	assert.Nil(t, frames[0].Error)
	require.NotNil(t, frames[1].Error)
	assert.Equal(t, errors.ErrKnowledgeSubscription.Code, frames[1].Error.Code)
	assert.Equal(t, "3", string(frames[1].ID))
}

func TestStreamHeartbeat(t *testing.T) {
	srv := newTestServer(t, echoHandler, nil)

	subscription := sse.NewSubscription("task-s4", 1)

	go func() {
		// Let a few heartbeat ticks pass before the final frame.
		time.Sleep(200 * time.Millisecond)

		payload, _ := json.Marshal(a2a.TaskStatusUpdateEvent{
			ID:     "task-s4",
			Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
			Final:  true,
		})

		subscription.Push(sse.Event{Data: payload, Final: true})
	}()

	srv.app.Get("/stream-heartbeat", func(ctx fiber.Ctx) error {
		return srv.streamResponse(ctx, nil, subscription)
	})

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/stream-heartbeat", nil))
	require.NoError(t, err)

	body := readBody(t, resp)

	assert.Contains(t, string(body), ": heartbeat")
	assert.Contains(t, string(body), `"id":null`)

	frames := sseFrames(t, body)
	require.Len(t, frames, 1)
}
