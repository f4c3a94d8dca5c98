package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smarty/assertions/should"
	"github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/jsonrpc"
)

func fastRetry() *errors.RetryConfig {
	return &errors.RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// rpcServer fakes an agent endpoint: it decodes each envelope and
// hands it to respond, which writes whatever wire bytes the test
// needs.
func rpcServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "bad envelope", http.StatusBadRequest)
			return
		}
		respond(w, r, &request)
	}))
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func writeFrame(w http.ResponseWriter, id json.RawMessage, result any) {
	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func completedTask(id, reply string) a2a.Task {
	return a2a.Task{
		ID:     id,
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Artifacts: []a2a.Artifact{
			{Parts: []a2a.Part{a2a.NewTextPart(reply)}},
		},
	}
}

func TestNewAgentClient(t *testing.T) {
	convey.Convey("Given an endpoint URL", t, func() {
		endpoint := "http://test-agent:3210"

		convey.Convey("When creating a client with a header", func() {
			client := NewAgentClient(endpoint, WithHeader("X-API-Key", "sekrit"))

			convey.Convey("Then unary and stream transports share the setup", func() {
				convey.So(client.endpoint, should.Equal, endpoint)
				convey.So(client.rpc.URL, should.Equal, endpoint)
				convey.So(client.stream.URL, should.Equal, endpoint)
				convey.So(client.rpc.Header["X-API-Key"], should.Equal, "sekrit")
				convey.So(client.stream.Headers["X-API-Key"], should.Equal, "sekrit")
				convey.So(client.Card, should.BeNil)
			})
		})
	})
}

func TestDiscover(t *testing.T) {
	convey.Convey("Given a server publishing an agent card", t, func() {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		card := a2a.AgentCard{
			Name:    "Test Agent",
			Version: "1.0.0",
			URL:     server.URL + "/rpc",
			Capabilities: a2a.AgentCapabilities{
				Streaming: true,
			},
		}
		mux.HandleFunc(a2a.AgentCardPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(card)
		})

		convey.Convey("When discovering the agent", func() {
			client, err := Discover(context.Background(), server.URL)

			convey.Convey("Then the client is bound to the advertised endpoint", func() {
				convey.So(err, should.BeNil)
				convey.So(client.Card, should.NotBeNil)
				convey.So(client.Card.Name, should.Equal, "Test Agent")
				convey.So(client.Card.Capabilities.Streaming, should.BeTrue)
				convey.So(client.endpoint, should.Equal, server.URL+"/rpc")
				convey.So(client.rpc.URL, should.Equal, server.URL+"/rpc")
			})
		})
	})
}

func TestSendTask(t *testing.T) {
	convey.Convey("Given an agent that settles tasks", t, func() {
		var mu sync.Mutex
		var method string

		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			mu.Lock()
			method = request.Method
			mu.Unlock()

			var params a2a.TaskSendParams
			json.Unmarshal(request.Params, &params)
			writeResult(w, request.ID, completedTask(params.ID, "Test response"))
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When sending a task", func() {
			task, err := client.SendTask(context.Background(), a2a.TaskSendParams{
				ID:      "task-1",
				Message: *a2a.NewTextMessage(a2a.RoleUser, "test prompt"),
			})

			convey.Convey("Then the settled task comes back", func() {
				convey.So(err, should.BeNil)
				convey.So(task.ID, should.Equal, "task-1")
				convey.So(task.Status.State, should.Equal, a2a.TaskStateCompleted)

				mu.Lock()
				defer mu.Unlock()
				convey.So(method, should.Equal, a2a.MethodTaskSend)
			})
		})

		convey.Convey("When using the text convenience wrapper", func() {
			reply, err := client.SendText(context.Background(), "test prompt")

			convey.Convey("Then the artifact text is extracted", func() {
				convey.So(err, should.BeNil)
				convey.So(reply, should.Equal, "Test response")
			})
		})
	})
}

func TestProtocolErrorSurfacing(t *testing.T) {
	convey.Convey("Given an agent that rejects unknown tasks", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(request.ID, errors.ErrTaskNotFound))
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When fetching a missing task", func() {
			task, err := client.GetTask(context.Background(), a2a.TaskQueryParams{
				TaskIDParams: a2a.TaskIDParams{ID: "missing"},
			})

			convey.Convey("Then the protocol error is preserved", func() {
				convey.So(task, should.BeNil)
				convey.So(stderrors.Is(err, errors.ErrTaskNotFound), should.BeTrue)
			})
		})
	})
}

func TestGetPushNotificationUnset(t *testing.T) {
	convey.Convey("Given an agent with no webhook registered", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":null}`, request.ID)
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When reading the push config", func() {
			config, err := client.GetPushNotification(context.Background(), a2a.TaskIDParams{ID: "task-1"})

			convey.Convey("Then both config and error are nil", func() {
				convey.So(err, should.BeNil)
				convey.So(config, should.BeNil)
			})
		})
	})
}

func TestStreamTask(t *testing.T) {
	convey.Convey("Given an agent that streams task progress", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			writeFrame(w, request.ID, a2a.TaskStatusUpdateEvent{
				ID:     "task-1",
				Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
			})
			writeFrame(w, request.ID, a2a.TaskArtifactUpdateEvent{
				ID:       "task-1",
				Artifact: a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart("chunk")}},
			})
			writeFrame(w, request.ID, a2a.TaskStatusUpdateEvent{
				ID:     "task-1",
				Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
				Final:  true,
			})
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When streaming a task", func() {
			var events []*TaskEvent

			err := client.StreamTask(context.Background(), a2a.TaskSendParams{
				ID:      "task-1",
				Message: *a2a.NewTextMessage(a2a.RoleUser, "stream it"),
			}, func(event *TaskEvent) {
				events = append(events, event)
			})

			convey.Convey("Then every frame arrives in order through the final one", func() {
				convey.So(err, should.BeNil)
				convey.So(len(events), should.Equal, 3)
				convey.So(events[0].Status.Status.State, should.Equal, a2a.TaskStateWorking)
				convey.So(events[1].Artifact.Artifact.Parts[0].Text, should.Equal, "chunk")
				convey.So(events[2].Final(), should.BeTrue)
			})
		})
	})
}

func TestStreamTaskResubscribes(t *testing.T) {
	convey.Convey("Given an agent whose stream drops mid-task", t, func() {
		var mu sync.Mutex
		var methods []string

		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			mu.Lock()
			methods = append(methods, request.Method)
			leg := len(methods)
			mu.Unlock()

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			if leg == 1 {
				// Drop the connection after one event, before any
				// final frame.
				writeFrame(w, request.ID, a2a.TaskStatusUpdateEvent{
					ID:     "task-1",
					Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
				})
				return
			}

			writeFrame(w, request.ID, a2a.TaskStatusUpdateEvent{
				ID:     "task-1",
				Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
				Final:  true,
			})
		})
		defer server.Close()

		client := NewAgentClient(server.URL, WithStreamRetry(fastRetry()))

		convey.Convey("When streaming the task", func() {
			var events []*TaskEvent

			err := client.StreamTask(context.Background(), a2a.TaskSendParams{
				ID:      "task-1",
				Message: *a2a.NewTextMessage(a2a.RoleUser, "stream it"),
			}, func(event *TaskEvent) {
				events = append(events, event)
			})

			convey.Convey("Then the client resubscribes and settles", func() {
				convey.So(err, should.BeNil)
				convey.So(len(events), should.Equal, 2)
				convey.So(events[1].Final(), should.BeTrue)

				mu.Lock()
				defer mu.Unlock()
				convey.So(methods, should.Resemble, []string{
					a2a.MethodTaskSendSubscribe,
					a2a.MethodTaskResubscribe,
				})
			})
		})
	})
}

func TestStreamTaskErrorFrame(t *testing.T) {
	convey.Convey("Given an agent whose handler fails mid-stream", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			writeFrame(w, request.ID, a2a.TaskStatusUpdateEvent{
				ID:     "task-1",
				Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
			})

			payload, _ := json.Marshal(jsonrpc.NewErrorResponse(request.ID, errors.ErrInternal))
			fmt.Fprintf(w, "data: %s\n\n", payload)
			w.(http.Flusher).Flush()
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When streaming the task", func() {
			var events []*TaskEvent

			err := client.StreamTask(context.Background(), a2a.TaskSendParams{
				ID:      "task-1",
				Message: *a2a.NewTextMessage(a2a.RoleUser, "stream it"),
			}, func(event *TaskEvent) {
				events = append(events, event)
			})

			convey.Convey("Then the error frame surfaces without a resubscribe", func() {
				convey.So(stderrors.Is(err, errors.ErrInternal), should.BeTrue)
				convey.So(len(events), should.Equal, 1)
			})
		})
	})
}

func TestStreamRefusalUnwrapsEnvelope(t *testing.T) {
	convey.Convey("Given an agent without the streaming capability", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(request.ID, errors.ErrMethodNotFound))
		})
		defer server.Close()

		client := NewAgentClient(server.URL)

		convey.Convey("When attempting to stream", func() {
			err := client.StreamTask(context.Background(), a2a.TaskSendParams{
				ID:      "task-1",
				Message: *a2a.NewTextMessage(a2a.RoleUser, "stream it"),
			}, func(event *TaskEvent) {})

			convey.Convey("Then the refusal carries the protocol error", func() {
				convey.So(stderrors.Is(err, errors.ErrMethodNotFound), should.BeTrue)
			})
		})
	})
}

func TestSubscribeKnowledge(t *testing.T) {
	convey.Convey("Given an agent streaming knowledge changes", t, func() {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, request *jsonrpc.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			for i := range 2 {
				writeFrame(w, request.ID, a2a.KnowledgeGraphChangeEvent{
					Op:       a2a.PatchOpAdd,
					ChangeID: fmt.Sprintf("change-%d", i),
					Statement: a2a.KGStatement{
						Subject:   a2a.KGSubject{ID: "ex:doc-1"},
						Predicate: a2a.KGPredicate{ID: "ex:status"},
						Object:    a2a.KGObject{Value: "reviewed"},
					},
					Timestamp: time.Now(),
				})
			}

			<-r.Context().Done()
		})
		defer server.Close()

		client := NewAgentClient(server.URL, WithStreamRetry(fastRetry()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.Convey("When subscribing to changes", func() {
			var changes []*a2a.KnowledgeGraphChangeEvent

			err := client.SubscribeKnowledge(ctx, a2a.KnowledgeSubscribeParams{
				SubscriptionQuery: `{ statementAdded(subjectId: "ex:doc-1") { predicate { id } } }`,
			}, func(change *a2a.KnowledgeGraphChangeEvent) {
				changes = append(changes, change)
				if len(changes) == 2 {
					cancel()
				}
			})

			convey.Convey("Then changes arrive until cancellation", func() {
				convey.So(stderrors.Is(err, context.Canceled), should.BeTrue)
				convey.So(len(changes), should.Equal, 2)
				convey.So(changes[0].ChangeID, should.Equal, "change-0")
				convey.So(changes[1].Statement.Object.Value, should.Equal, "reviewed")
			})
		})
	})
}
