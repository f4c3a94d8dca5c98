package sse

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/metrics"
)

// Event is a single decoded server-sent event.  A2A servers leave the
// event name blank and carry a JSON-RPC response envelope in Data.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

/*
StatusError is returned when the server refuses a stream with a
non-success status code.  Body holds whatever the server sent back,
typically a JSON-RPC error envelope the caller can decode for the
protocol-level cause.
*/
type StatusError struct {
	Code int
	Body []byte
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", err.Code)
}

/*
Client consumes server-sent event streams from an A2A endpoint.  A
stream opens by POSTing a JSON-RPC payload with an event-stream Accept
header; the response body then carries one frame per protocol event
until the server closes it.
*/
type Client struct {
	URL     string
	Headers map[string]string
	Metrics *metrics.StreamingMetrics
	Retry   *errors.RetryConfig
	HTTP    *http.Client
}

// NewClient creates a client for the stream endpoint at url.
func NewClient(url string) *Client {
	return &Client{
		URL:     url,
		Headers: make(map[string]string),
		Metrics: metrics.NewStreamingMetrics(),
		Retry:   errors.DefaultRetryConfig(),
		HTTP: &http.Client{
			// No overall timeout: a healthy stream outlives any fixed
			// deadline.  The context bounds the connection instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

/*
Subscribe POSTs the payload and hands every decoded event to handler
until the server closes the stream.  The handler returns false to stop
early.  Connection failures are retried with exponential backoff; a
response with a non-success status aborts immediately with a
StatusError.
*/
func (client *Client) Subscribe(ctx context.Context, payload []byte, handler func(*Event) bool) error {
	response, err := client.connect(ctx, payload)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	reader := bufio.NewReader(response.Body)

	for {
		event, err := readEvent(reader)

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		start := time.Now()
		keep := handler(event)
		client.Metrics.RecordEvent(false, time.Since(start), time.Since(start))

		if !keep {
			return nil
		}
	}
}

// connect opens the stream, retrying transport failures within the
// retry budget.  Refusals carrying a status code are not retried since
// the server already made up its mind.
func (client *Client) connect(ctx context.Context, payload []byte) (*http.Response, error) {
	delay := client.Retry.InitialDelay
	var lastErr error

	for attempt := 0; attempt < client.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * client.Retry.BackoffFactor)
			if delay > client.Retry.MaxDelay {
				delay = client.Retry.MaxDelay
			}
		}

		response, err := client.attempt(ctx, payload)
		if err == nil {
			return response, nil
		}

		var statusErr *StatusError
		if stderrors.As(err, &statusErr) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (client *Client) attempt(ctx context.Context, payload []byte) (*http.Response, error) {
	start := time.Now()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.URL, bytes.NewReader(payload))
	if err != nil {
		client.Metrics.RecordConnection(false, time.Since(start))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")
	for key, value := range client.Headers {
		request.Header.Set(key, value)
	}

	response, err := client.HTTP.Do(request)
	if err != nil {
		client.Metrics.RecordConnection(false, time.Since(start))
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(response.Body)
		response.Body.Close()
		client.Metrics.RecordConnection(false, time.Since(start))
		return nil, &StatusError{Code: response.StatusCode, Body: body}
	}

	client.Metrics.RecordConnection(true, time.Since(start))
	return response, nil
}

/*
readEvent reads one complete event off the wire.  Comment lines, which
is how the server spells its keep-alive heartbeats, never open an
event; multi-line data fields are joined with newlines; a blank line
terminates the event.
*/
func readEvent(reader *bufio.Reader) (*Event, error) {
	event := &Event{}
	var data strings.Builder
	inEvent := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\n\r")

		// Empty line marks the end of an event.
		if line == "" {
			if inEvent {
				event.Data = []byte(data.String())
				return event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		inEvent = true

		switch {
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
