package tasks

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
GetPushNotification returns the webhook config registered for a task.
A task with no config yields an explicit null result rather than an
error.
*/
func GetPushNotification(
	ctx context.Context,
	raw json.RawMessage,
	manager *Manager,
) (any, *errors.RpcError) {
	var params a2a.TaskIDParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	config, rpcErr := manager.GetPushConfig(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if config == nil {
		return json.RawMessage("null"), nil
	}

	return config, nil
}
