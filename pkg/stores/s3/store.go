package s3

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
Store provides an S3 implementation of the TaskStore interface.
Tasks live under tasks/<id>.json and push configs under
push/<id>.json in the connection's bucket.
*/
type Store struct {
	conn *Conn
}

/*
NewStore creates a new S3-based task store with the given connection.
*/
func NewStore(conn *Conn) *Store {
	return &Store{conn: conn}
}

func (store *Store) Load(
	ctx context.Context, id string,
) (*a2a.Task, *errors.RpcError) {
	buf, err := store.conn.Get(ctx, taskKey(id))

	if err != nil {
		if IsNotFound(err) {
			return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
		}

		log.Error("failed to get task", "id", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to get task: %v", err)
	}

	var task a2a.Task

	if err := json.Unmarshal(buf.Bytes(), &task); err != nil {
		log.Error("failed to unmarshal task", "id", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to unmarshal task: %v", err)
	}

	return &task, nil
}

func (store *Store) Save(
	ctx context.Context, task *a2a.Task,
) *errors.RpcError {
	if task == nil || task.ID == "" {
		return errors.ErrInternal.WithMessagef("cannot save task without an id")
	}

	data, err := json.Marshal(task)

	if err != nil {
		log.Error("failed to marshal task", "id", task.ID, "error", err)
		return errors.ErrInternal.WithMessagef("failed to marshal task: %v", err)
	}

	if err := store.conn.Put(ctx, taskKey(task.ID), data); err != nil {
		log.Error("failed to store task", "id", task.ID, "error", err)
		return errors.ErrInternal.WithMessagef("failed to store task: %v", err)
	}

	return nil
}

func (store *Store) SavePushConfig(
	ctx context.Context, id string, config *a2a.PushNotificationConfig,
) *errors.RpcError {
	if _, rpcErr := store.Load(ctx, id); rpcErr != nil {
		return rpcErr
	}

	data, err := json.Marshal(config)

	if err != nil {
		log.Error("failed to marshal push config", "id", id, "error", err)
		return errors.ErrInternal.WithMessagef("failed to marshal push config: %v", err)
	}

	if err := store.conn.Put(ctx, pushKey(id), data); err != nil {
		log.Error("failed to store push config", "id", id, "error", err)
		return errors.ErrInternal.WithMessagef("failed to store push config: %v", err)
	}

	return nil
}

func (store *Store) LoadPushConfig(
	ctx context.Context, id string,
) (*a2a.PushNotificationConfig, *errors.RpcError) {
	if _, rpcErr := store.Load(ctx, id); rpcErr != nil {
		return nil, rpcErr
	}

	buf, err := store.conn.Get(ctx, pushKey(id))

	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}

		log.Error("failed to get push config", "id", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to get push config: %v", err)
	}

	var config a2a.PushNotificationConfig

	if err := json.Unmarshal(buf.Bytes(), &config); err != nil {
		log.Error("failed to unmarshal push config", "id", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to unmarshal push config: %v", err)
	}

	return &config, nil
}

func taskKey(id string) string {
	return "tasks/" + id + ".json"
}

func pushKey(id string) string {
	return "push/" + id + ".json"
}
