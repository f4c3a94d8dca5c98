package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

/*
RpcError represents a JSON-RPC error response.
*/
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for RpcError.
*/
func (e *RpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Convenience errors (JSON-RPC reserved codes -32700 .. -32600)
// A2A extension codes live in the -32000 range below.
var (
	ErrParseError     = &RpcError{Code: -32700, Message: "Invalid JSON payload"}
	ErrInvalidRequest = &RpcError{Code: -32600, Message: "Request payload validation error"}
	ErrMethodNotFound = &RpcError{Code: -32601, Message: "Method not found"}
	ErrInvalidParams  = &RpcError{Code: -32602, Message: "Invalid parameters"}
	ErrInternal       = &RpcError{Code: -32603, Message: "Internal error"}

	ErrTaskNotFound                  = &RpcError{Code: -32001, Message: "Task not found"}
	ErrTaskNotCancelable             = &RpcError{Code: -32002, Message: "Task cannot be canceled"}
	ErrPushNotificationsNotSupported = &RpcError{Code: -32003, Message: "Push Notification is not supported"}
	ErrUnsupportedOperation          = &RpcError{Code: -32004, Message: "This operation is not supported"}
	ErrContentTypeNotSupported       = &RpcError{Code: -32005, Message: "Incompatible content types"}

	ErrKnowledgeQuery        = &RpcError{Code: -32010, Message: "Knowledge query execution error"}
	ErrKnowledgeUpdate       = &RpcError{Code: -32011, Message: "Knowledge update error"}
	ErrKnowledgeSubscription = &RpcError{Code: -32012, Message: "Knowledge subscription error"}
	ErrAlignmentViolation    = &RpcError{Code: -32013, Message: "Proposed update violates alignment policy"}
)

// WithMessagef creates a *copy* of an RpcError with a formatted message.
// It does not modify the original error variable.
func (e *RpcError) WithMessagef(format string, args ...any) *RpcError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy carrying structured error data, e.g. the
// offending task id or the task's current state.
func (e *RpcError) WithData(data any) *RpcError {
	newErr := *e
	newErr.Data = data
	return &newErr
}

// Is matches RpcErrors by code, so a copy produced by WithMessagef
// still compares equal to its sentinel under errors.Is.
func (e *RpcError) Is(target error) bool {
	var rpcErr *RpcError
	if !errors.As(target, &rpcErr) {
		return false
	}
	return e.Code == rpcErr.Code
}

/*
HTTPStatus maps an error code onto the transport status: parse and
validation problems are 400, unknown methods and tasks 404, operations
the backend lacks 501, crashes 500.  Domain errors such as a rejected
knowledge update stay 200 since the JSON-RPC envelope already carries
them.
*/
func (e *RpcError) HTTPStatus() int {
	switch e.Code {
	case ErrParseError.Code, ErrInvalidRequest.Code, ErrInvalidParams.Code:
		return http.StatusBadRequest
	case ErrMethodNotFound.Code, ErrTaskNotFound.Code:
		return http.StatusNotFound
	case ErrUnsupportedOperation.Code:
		return http.StatusNotImplemented
	case ErrInternal.Code:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Coerce turns any error into an RpcError, passing RpcErrors through
// and wrapping everything else as an internal error.
func Coerce(err error) *RpcError {
	if err == nil {
		return nil
	}

	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	return ErrInternal.WithMessagef("%s", err.Error())
}

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
func RetryWithBackoff(config *RetryConfig, fn func() error) error {
	var err error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts, last error: %w", config.MaxAttempts, err)
}
