package tasks

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

func Get(
	ctx context.Context,
	raw json.RawMessage,
	manager *Manager,
) (any, *errors.RpcError) {
	var params a2a.TaskQueryParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	task, rpcErr := manager.GetTask(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}
