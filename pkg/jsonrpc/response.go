package jsonrpc

import (
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
Response is the JSON-RPC 2.0 response envelope.  Exactly one of Result
and Error is set.  The ID mirrors the request id byte for byte, so a
numeric id never comes back as a float-formatted string.
*/
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

// NewResponse wraps a successful result for the given request id.
func NewResponse(id json.RawMessage, result any) Response {
	if len(id) == 0 {
		id = nullID
	}

	return Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse wraps an RpcError for the given request id.
func NewErrorResponse(id json.RawMessage, rpcErr *errors.RpcError) Response {
	if len(id) == 0 {
		id = nullID
	}

	return Response{
		JSONRPC: Version,
		ID:      id,
		Error:   rpcErr,
	}
}
