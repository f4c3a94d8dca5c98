package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Version is the only protocol revision this package speaks.
const Version = "2.0"

/*
Request is a single JSON-RPC 2.0 request envelope.  ID is kept as raw
JSON so string, number and null identifiers all round-trip untouched.
Params stays raw until the method handler knows which shape to decode.
*/
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

var nullID = []byte("null")

// HasID reports whether the request carried an id field at all.  A
// request without one is a notification; inside a batch it receives no
// response entry.  An explicit null id still gets a response.
func (req *Request) HasID() bool {
	return len(req.ID) != 0
}

// NullID reports whether the id was absent or the literal null.
func (req *Request) NullID() bool {
	return len(req.ID) == 0 || bytes.Equal(bytes.TrimSpace(req.ID), nullID)
}

// Valid checks the envelope invariants: version tag and a method name.
func (req *Request) Valid() bool {
	return req.JSONRPC == Version && req.Method != ""
}
