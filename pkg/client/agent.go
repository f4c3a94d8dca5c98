package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/jsonrpc"
	"github.com/theapemachine/a2a-core/pkg/sse"
	"github.com/theapemachine/a2a-core/pkg/utils"
)

/*
AgentClient talks to a remote A2A agent: unary methods over JSON-RPC
POST, streaming methods over SSE, discovery over the well-known card
path.  Card holds the most recently fetched discovery document and is
nil until AgentCard or Discover has run.
*/
type AgentClient struct {
	Card *a2a.AgentCard

	endpoint   string
	rpc        *jsonrpc.RPCClient
	stream     *sse.Client
	httpClient *http.Client
}

// Option configures an AgentClient during construction.
type Option func(*AgentClient)

// WithHTTPClient swaps the transport used for unary calls and card
// fetches.  Streams keep their own deadline-free client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *AgentClient) {
		client.httpClient = httpClient
		client.rpc.Client = httpClient
	}
}

// WithHeader attaches a header to every request, streams included.
// This is where API keys and bearer tokens go.
func WithHeader(key, value string) Option {
	return func(client *AgentClient) {
		client.rpc.Header[key] = value
		client.stream.Headers[key] = value
	}
}

// WithStreamRetry tunes connect retries and reconnect pacing for the
// streaming methods.
func WithStreamRetry(retry *errors.RetryConfig) Option {
	return func(client *AgentClient) {
		if retry != nil {
			client.stream.Retry = retry
		}
	}
}

// NewAgentClient creates a client for the agent whose JSON-RPC
// endpoint lives at endpoint.
func NewAgentClient(endpoint string, options ...Option) *AgentClient {
	client := &AgentClient{
		endpoint:   endpoint,
		rpc:        jsonrpc.NewRPCClient(endpoint),
		stream:     sse.NewClient(endpoint),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

/*
Discover fetches the agent card from the server at baseURL and returns
a client bound to the RPC endpoint the card advertises.
*/
func Discover(ctx context.Context, baseURL string, options ...Option) (*AgentClient, error) {
	client := NewAgentClient(baseURL, options...)

	card, err := client.AgentCard(ctx)
	if err != nil {
		return nil, err
	}

	if card.URL != "" && card.URL != client.endpoint {
		client.endpoint = card.URL
		client.rpc.URL = card.URL
		client.stream.URL = card.URL
	}

	return client, nil
}

// AgentCard fetches the remote agent's discovery document and caches
// it on the client.  The well-known path is host-rooted, so it is
// derived from the endpoint's scheme and host.
func (client *AgentClient) AgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	parsed, err := url.Parse(client.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid agent endpoint: %w", err)
	}
	parsed.Path = a2a.AgentCardPath
	parsed.RawQuery = ""

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, value := range client.rpc.Header {
		request.Header.Set(key, value)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch returned status %d", response.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.NewDecoder(response.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}

	client.Card = &card
	return &card, nil
}

// SendTask submits a message and blocks until the remote handler
// settles the task.
func (client *AgentClient) SendTask(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := client.rpc.Call(ctx, a2a.MethodTaskSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches the current snapshot of a task.
func (client *AgentClient) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := client.rpc.Call(ctx, a2a.MethodTaskGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask requests cancellation and returns the resulting snapshot.
func (client *AgentClient) CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := client.rpc.Call(ctx, a2a.MethodTaskCancel, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetPushNotification registers a webhook for a task's updates.  The
// server echoes the stored config back.
func (client *AgentClient) SetPushNotification(ctx context.Context, config a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	var stored a2a.TaskPushNotificationConfig
	if err := client.rpc.Call(ctx, a2a.MethodPushNotificationSet, config, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetPushNotification returns the webhook config for a task, or nil
// when none is registered.
func (client *AgentClient) GetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	var config *a2a.TaskPushNotificationConfig
	if err := client.rpc.Call(ctx, a2a.MethodPushNotificationGet, params, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// QueryKnowledge runs a read-only query against the agent's knowledge
// graph.
func (client *AgentClient) QueryKnowledge(ctx context.Context, params a2a.KnowledgeQueryParams) (*a2a.KnowledgeQueryResult, error) {
	var result a2a.KnowledgeQueryResult
	if err := client.rpc.Call(ctx, a2a.MethodKnowledgeQuery, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateKnowledge proposes mutations to the agent's knowledge graph
// and reports how the server's verification policy judged them.
func (client *AgentClient) UpdateKnowledge(ctx context.Context, params a2a.KnowledgeUpdateParams) (*a2a.KnowledgeUpdateResult, error) {
	var result a2a.KnowledgeUpdateResult
	if err := client.rpc.Call(ctx, a2a.MethodKnowledgeUpdate, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

/*
TaskEvent is one frame of a task stream.  Exactly one of Status and
Artifact is set, mirroring the server's event union.
*/
type TaskEvent struct {
	Status   *a2a.TaskStatusUpdateEvent
	Artifact *a2a.TaskArtifactUpdateEvent
}

// Final reports whether this frame closes the stream.
func (event *TaskEvent) Final() bool {
	return event.Status != nil && event.Status.Final
}

/*
StreamTask opens a tasks/sendSubscribe stream and invokes handler for
every event through the final frame.  A stream that drops before its
final frame is picked back up with tasks/resubscribe; events published
while disconnected are not replayed.
*/
func (client *AgentClient) StreamTask(ctx context.Context, params a2a.TaskSendParams, handler func(*TaskEvent)) error {
	return client.streamTask(ctx, a2a.MethodTaskSendSubscribe, params, params.ID, handler)
}

// Resubscribe reattaches to an existing task's stream.  Terminal tasks
// replay their final status so late subscribers still settle.
func (client *AgentClient) Resubscribe(ctx context.Context, params a2a.TaskQueryParams, handler func(*TaskEvent)) error {
	return client.streamTask(ctx, a2a.MethodTaskResubscribe, params, params.ID, handler)
}

func (client *AgentClient) streamTask(ctx context.Context, method string, params any, taskID string, handler func(*TaskEvent)) error {
	var frameErr error
	final := false

	accept := func(event *sse.Event) bool {
		taskEvent, err := client.decodeFrame(event)
		if err != nil {
			frameErr = err
			return false
		}

		handler(taskEvent)

		if taskEvent.Final() {
			final = true
			return false
		}
		return true
	}

	err := client.openStream(ctx, method, params, accept)

	for err == nil && frameErr == nil && !final {
		// The server closed the stream without a final frame.  Pace the
		// reconnect and pick the task up where it is now.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(client.stream.Retry.InitialDelay):
		}

		log.Warn("stream dropped before final event, resubscribing", "task", taskID)
		client.stream.Metrics.RecordReconnection()

		err = client.openStream(ctx, a2a.MethodTaskResubscribe, a2a.TaskQueryParams{
			TaskIDParams: a2a.TaskIDParams{ID: taskID},
		}, accept)
	}

	if frameErr != nil {
		return frameErr
	}
	return err
}

/*
SubscribeKnowledge opens a knowledge/subscribe stream and invokes
handler for every committed change matching the subscription query.
The stream has no final frame; cancellation is the normal way out, and
a dropped connection is reopened with the same subscription.
*/
func (client *AgentClient) SubscribeKnowledge(ctx context.Context, params a2a.KnowledgeSubscribeParams, handler func(*a2a.KnowledgeGraphChangeEvent)) error {
	var frameErr error

	accept := func(event *sse.Event) bool {
		var envelope jsonrpc.RawResponse
		if err := json.Unmarshal(event.Data, &envelope); err != nil {
			frameErr = fmt.Errorf("failed to decode stream envelope: %w", err)
			return false
		}
		if envelope.Error != nil {
			frameErr = envelope.Error
			return false
		}

		var change a2a.KnowledgeGraphChangeEvent
		if err := json.Unmarshal(envelope.Result, &change); err != nil {
			frameErr = fmt.Errorf("failed to decode change event: %w", err)
			return false
		}

		handler(&change)
		return true
	}

	err := client.openStream(ctx, a2a.MethodKnowledgeSubscribe, params, accept)

	for err == nil && frameErr == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(client.stream.Retry.InitialDelay):
		}

		client.stream.Metrics.RecordReconnection()
		err = client.openStream(ctx, a2a.MethodKnowledgeSubscribe, params, accept)
	}

	if frameErr != nil {
		return frameErr
	}
	return err
}

// openStream issues one streaming request and feeds its frames to
// accept.  Refusal bodies are unwrapped into protocol errors when they
// carry an envelope.
func (client *AgentClient) openStream(ctx context.Context, method string, params any, accept func(*sse.Event) bool) error {
	request, err := client.rpc.NewRequest(method, params)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}

	if err := client.stream.Subscribe(ctx, payload, accept); err != nil {
		var statusErr *sse.StatusError
		if stderrors.As(err, &statusErr) {
			var envelope jsonrpc.RawResponse
			if json.Unmarshal(statusErr.Body, &envelope) == nil && envelope.Error != nil {
				return envelope.Error
			}
		}
		return err
	}

	return nil
}

// decodeFrame unwraps the JSON-RPC envelope around one SSE frame and
// decodes the event union inside it.
func (client *AgentClient) decodeFrame(event *sse.Event) (*TaskEvent, error) {
	var envelope jsonrpc.RawResponse

	if err := json.Unmarshal(event.Data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode stream envelope: %w", err)
	}

	if envelope.Error != nil {
		return nil, envelope.Error
	}

	var probe struct {
		Status   json.RawMessage `json:"status"`
		Artifact json.RawMessage `json:"artifact"`
	}

	if err := json.Unmarshal(envelope.Result, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode stream frame: %w", err)
	}

	switch {
	case len(probe.Artifact) > 0:
		var artifact a2a.TaskArtifactUpdateEvent
		if err := json.Unmarshal(envelope.Result, &artifact); err != nil {
			return nil, fmt.Errorf("failed to decode artifact event: %w", err)
		}
		return &TaskEvent{Artifact: &artifact}, nil
	case len(probe.Status) > 0:
		var status a2a.TaskStatusUpdateEvent
		if err := json.Unmarshal(envelope.Result, &status); err != nil {
			return nil, fmt.Errorf("failed to decode status event: %w", err)
		}
		return &TaskEvent{Status: &status}, nil
	}

	return nil, fmt.Errorf("stream frame carries neither status nor artifact")
}

/*
SendText is the plain text-in text-out convenience wrapper.  It sends
one user message under a fresh task id and returns the first text part
of the settled task, preferring artifacts over history.
*/
func (client *AgentClient) SendText(ctx context.Context, text string) (string, error) {
	params := a2a.TaskSendParams{
		ID:            uuid.NewString(),
		Message:       *a2a.NewTextMessage(a2a.RoleUser, text),
		HistoryLength: utils.Ptr(10),
	}

	log.Debug("sending task", "task", params.ID)

	task, err := client.SendTask(ctx, params)
	if err != nil {
		return "", err
	}

	if reply, ok := firstText(task); ok {
		return reply, nil
	}

	return "", fmt.Errorf("no text output received from agent")
}

// firstText digs the first text part out of a settled task, checking
// artifacts before agent history messages.
func firstText(task *a2a.Task) (string, bool) {
	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if part.Type == a2a.PartTypeText && part.Text != "" {
				return part.Text, true
			}
		}
	}

	for _, message := range task.History {
		if message.Role != a2a.RoleAgent {
			continue
		}
		for _, part := range message.Parts {
			if part.Type == a2a.PartTypeText && part.Text != "" {
				return part.Text, true
			}
		}
	}

	return "", false
}
