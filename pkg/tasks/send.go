package tasks

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

func Send(
	ctx context.Context,
	raw json.RawMessage,
	manager *Manager,
) (any, *errors.RpcError) {
	var params a2a.TaskSendParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	task, rpcErr := manager.SendTask(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}
