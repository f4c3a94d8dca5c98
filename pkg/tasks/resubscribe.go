package tasks

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
Resubscribe re-attaches a client to a task's event stream after a
dropped connection.  Terminal tasks produce a single final status
frame; active tasks are joined in progress.
*/
func Resubscribe(
	ctx context.Context,
	raw json.RawMessage,
	manager *Manager,
) (any, *errors.RpcError) {
	var params a2a.TaskQueryParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	subscription, rpcErr := manager.ResubscribeTask(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return subscription, nil
}
