package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
RawResponse mirrors Response with the result left undecoded, for
callers that need to inspect the envelope before choosing a concrete
result type.
*/
type RawResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

/*
RPCClient issues JSON-RPC 2.0 calls over HTTP POST.  Errors reported by
the server come back as *errors.RpcError, so callers can branch on the
protocol code with errors.Is against the package sentinels.
*/
type RPCClient struct {
	URL    string
	Client *http.Client
	Header map[string]string

	nextID atomic.Int64
}

// NewRPCClient creates a client for the endpoint at url.
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		URL:    url,
		Client: &http.Client{},
		Header: make(map[string]string),
	}
}

// NewRequest builds a request envelope carrying a fresh id from the
// client's sequence.  Streaming transports reuse it so their ids never
// collide with unary calls on the same client.
func (c *RPCClient) NewRequest(method string, params any) (*Request, error) {
	request := &Request{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10)),
		Method:  method,
	}

	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		request.Params = encoded
	}

	return request, nil
}

/*
Call executes method and decodes the result into result when it is
non-nil.  A null result is decoded too, which zeroes pointer targets
rather than leaving stale data behind.
*/
func (c *RPCClient) Call(ctx context.Context, method string, params any, result any) error {
	request, err := c.NewRequest(method, params)
	if err != nil {
		return err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range c.Header {
		httpReq.Header.Set(key, value)
	}

	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	response, err := httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	// The auth middleware rejects before the dispatcher runs, so these
	// refusals carry no JSON-RPC envelope.
	if response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: missing or rejected credentials")
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited by server")
	}

	var envelope RawResponse

	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("unexpected response (status %d): %w", response.StatusCode, err)
	}

	if envelope.Error != nil {
		return envelope.Error
	}

	if result == nil || len(envelope.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	return nil
}
