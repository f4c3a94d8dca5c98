package stores

import (
	"context"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
TaskStore is the persistence boundary for tasks and their push
notification configs.  Implementations must be safe for concurrent
use and must never hand out aliased task state: Load returns a copy
the caller owns, Save copies the task it is given.
*/
type TaskStore interface {
	Load(ctx context.Context, id string) (*a2a.Task, *errors.RpcError)
	Save(ctx context.Context, task *a2a.Task) *errors.RpcError
	SavePushConfig(ctx context.Context, id string, config *a2a.PushNotificationConfig) *errors.RpcError
	LoadPushConfig(ctx context.Context, id string) (*a2a.PushNotificationConfig, *errors.RpcError)
}
