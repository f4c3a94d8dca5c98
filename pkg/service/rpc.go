package service

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/jsonrpc"
	"github.com/theapemachine/a2a-core/pkg/knowledge"
	"github.com/theapemachine/a2a-core/pkg/metrics"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
	"github.com/theapemachine/a2a-core/pkg/tasks"
)

// streamingMethods hold the connection open, which makes them
// meaningless inside a batch where responses are collected into one
// array.
var streamingMethods = map[string]struct{}{
	a2a.MethodTaskSendSubscribe:  {},
	a2a.MethodTaskResubscribe:    {},
	a2a.MethodKnowledgeSubscribe: {},
}

/*
handleRPC is the single protocol endpoint.  Every A2A method arrives
here as a JSON-RPC 2.0 envelope over POST; the body is either one
request object or an array of them.
*/
func (srv *Server) handleRPC(ctx fiber.Ctx) error {
	body := bytes.TrimSpace(ctx.Body())

	if len(body) == 0 {
		return srv.respondError(ctx, nil, errors.ErrInvalidRequest)
	}

	if body[0] == '[' {
		return srv.handleBatch(ctx, body)
	}

	var request jsonrpc.Request

	if err := json.Unmarshal(body, &request); err != nil {
		return srv.respondError(ctx, nil, errors.ErrParseError)
	}

	result, rpcErr := srv.dispatch(ctx, &request)

	// A streaming method returns a subscription instead of a value; the
	// response becomes an SSE stream wrapped around it.
	if subscription, ok := result.(*sse.Subscription); ok {
		return srv.streamResponse(ctx, request.ID, subscription)
	}

	// Requests without an id are notifications: the caller asked for no
	// response, success or failure.  A null id is not absent, so those
	// still get an answer.
	if !request.HasID() {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	if rpcErr != nil {
		return srv.respondError(ctx, request.ID, rpcErr)
	}

	return ctx.JSON(jsonrpc.NewResponse(request.ID, result))
}

/*
handleBatch runs every request in a JSON-RPC batch in order and
collects the responses.  Notifications contribute no response entry;
a batch of nothing but notifications answers 204.
*/
func (srv *Server) handleBatch(ctx fiber.Ctx, body []byte) error {
	var batch []jsonrpc.Request

	if err := json.Unmarshal(body, &batch); err != nil {
		return srv.respondError(ctx, nil, errors.ErrParseError)
	}

	if len(batch) == 0 {
		return srv.respondError(ctx, nil, errors.ErrInvalidRequest)
	}

	responses := make([]jsonrpc.Response, 0, len(batch))

	for i := range batch {
		request := &batch[i]

		var (
			result any
			rpcErr *errors.RpcError
		)

		if _, streaming := streamingMethods[request.Method]; streaming {
			rpcErr = errors.ErrInvalidRequest.WithMessagef(
				"method %s opens a stream and cannot be part of a batch", request.Method,
			)
		} else {
			result, rpcErr = srv.dispatch(ctx, request)
		}

		if !request.HasID() {
			continue
		}

		if rpcErr != nil {
			responses = append(responses, jsonrpc.NewErrorResponse(request.ID, rpcErr))
			continue
		}

		responses = append(responses, jsonrpc.NewResponse(request.ID, result))
	}

	if len(responses) == 0 {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	return ctx.JSON(responses)
}

// dispatch validates the envelope, routes the method, and records the
// request metrics.
func (srv *Server) dispatch(ctx context.Context, request *jsonrpc.Request) (any, *errors.RpcError) {
	if !request.Valid() {
		return nil, errors.ErrInvalidRequest
	}

	start := time.Now()
	result, rpcErr := srv.route(ctx, request)
	status := "success"

	if rpcErr != nil {
		status = "error"
		log.Warn(
			"rpc request failed",
			"method", request.Method,
			"code", rpcErr.Code,
			"error", rpcErr.Message,
		)
	}

	metrics.RecordRequest(request.Method, status, time.Since(start).Seconds())

	return result, rpcErr
}

/*
route maps a method name onto its handler, enforcing the capability
gates first.  A method whose capability is not declared on the agent
card does not exist as far as the caller is concerned, while a declared
capability with nothing wired behind it is unsupported.
*/
func (srv *Server) route(ctx context.Context, request *jsonrpc.Request) (any, *errors.RpcError) {
	caps := srv.card.Capabilities

	switch request.Method {
	case a2a.MethodTaskSend:
		return tasks.Send(ctx, request.Params, srv.manager)

	case a2a.MethodTaskSendSubscribe:
		if !caps.Streaming {
			return nil, errMethodGated(request.Method, "streaming")
		}

		return tasks.SendSubscribe(ctx, request.Params, srv.manager)

	case a2a.MethodTaskGet:
		return tasks.Get(ctx, request.Params, srv.manager)

	case a2a.MethodTaskCancel:
		return tasks.Cancel(ctx, request.Params, srv.manager)

	case a2a.MethodTaskResubscribe:
		if !caps.Streaming {
			return nil, errMethodGated(request.Method, "streaming")
		}

		return tasks.Resubscribe(ctx, request.Params, srv.manager)

	case a2a.MethodPushNotificationSet:
		if !caps.PushNotifications {
			return nil, errMethodGated(request.Method, "pushNotifications")
		}

		return tasks.SetPushNotification(ctx, request.Params, srv.manager)

	case a2a.MethodPushNotificationGet:
		if !caps.PushNotifications {
			return nil, errMethodGated(request.Method, "pushNotifications")
		}

		return tasks.GetPushNotification(ctx, request.Params, srv.manager)

	case a2a.MethodKnowledgeQuery:
		if !caps.KnowledgeGraph {
			return nil, errMethodGated(request.Method, "knowledgeGraph")
		}

		if rpcErr := srv.checkQueryLanguage(request.Params); rpcErr != nil {
			return nil, rpcErr
		}

		if srv.knowledge == nil {
			return nil, errors.ErrUnsupportedOperation
		}

		return knowledge.Query(ctx, request.Params, srv.knowledge)

	case a2a.MethodKnowledgeUpdate:
		if !caps.KnowledgeGraph {
			return nil, errMethodGated(request.Method, "knowledgeGraph")
		}

		if srv.knowledge == nil {
			return nil, errors.ErrUnsupportedOperation
		}

		return knowledge.Update(ctx, request.Params, srv.knowledge)

	case a2a.MethodKnowledgeSubscribe:
		if !caps.KnowledgeGraph || !caps.Streaming {
			return nil, errMethodGated(request.Method, "knowledgeGraph and streaming")
		}

		if srv.knowledge == nil {
			return nil, errors.ErrUnsupportedOperation
		}

		return knowledge.Subscribe(ctx, request.Params, srv.knowledge)
	}

	return nil, errors.ErrMethodNotFound.WithMessagef("method %s is not recognized", request.Method)
}

func errMethodGated(method string, capability string) *errors.RpcError {
	return errors.ErrMethodNotFound.WithMessagef(
		"method %s requires the %s capability", method, capability,
	)
}

/*
checkQueryLanguage peeks at the queryLanguage parameter before routing
a knowledge/query.  A language outside the card's declared set is gated
like a missing capability; a declared language with no executor behind
it is unsupported rather than unknown.
*/
func (srv *Server) checkQueryLanguage(raw json.RawMessage) *errors.RpcError {
	var peek struct {
		QueryLanguage string `json:"queryLanguage"`
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &peek); err != nil {
			return errors.ErrInvalidParams
		}
	}

	language := peek.QueryLanguage

	if language == "" {
		language = a2a.QueryLanguageGraphQL
	}

	if !srv.card.Capabilities.SupportsQueryLanguage(language) {
		return errors.ErrMethodNotFound.WithMessagef(
			"knowledge/query does not accept query language %q", language,
		)
	}

	if language != a2a.QueryLanguageGraphQL {
		return errors.ErrUnsupportedOperation.WithMessagef(
			"query language %q has no executor wired", language,
		)
	}

	return nil
}

// respondError writes a JSON-RPC error envelope with the HTTP status
// the error maps onto.
func (srv *Server) respondError(ctx fiber.Ctx, id json.RawMessage, rpcErr *errors.RpcError) error {
	return ctx.Status(rpcErr.HTTPStatus()).JSON(jsonrpc.NewErrorResponse(id, rpcErr))
}
