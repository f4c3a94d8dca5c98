package tasks

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
SendSubscribe starts a task run and returns the subscription carrying
its event stream.  The dispatcher recognizes the subscription result
and switches the connection to SSE instead of writing a single
response.
*/
func SendSubscribe(
	ctx context.Context,
	raw json.RawMessage,
	manager *Manager,
) (any, *errors.RpcError) {
	var params a2a.TaskSendParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	subscription, rpcErr := manager.StreamTask(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return subscription, nil
}
