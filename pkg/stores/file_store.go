package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
FileTaskStore persists each task as <dir>/<id>.json and its push
config as <dir>/<id>.push.json.  Writes go through a temp file and
rename so a crash never leaves a half-written task behind.  Task ids
become file names, so anything that could escape the directory is
rejected up front.
*/
type FileTaskStore struct {
	dir string
}

func NewFileTaskStore(dir string) (*FileTaskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &FileTaskStore{dir: dir}, nil
}

func (store *FileTaskStore) Load(
	ctx context.Context, id string,
) (*a2a.Task, *errors.RpcError) {
	path, rpcErr := store.taskPath(id)
	if rpcErr != nil {
		return nil, rpcErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
		}
		return nil, errors.ErrInternal.WithMessagef("failed to read task %s: %v", id, err)
	}

	var task a2a.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to decode task %s: %v", id, err)
	}

	return &task, nil
}

func (store *FileTaskStore) Save(
	ctx context.Context, task *a2a.Task,
) *errors.RpcError {
	if task == nil || task.ID == "" {
		return errors.ErrInternal.WithMessagef("cannot save task without an id")
	}

	path, rpcErr := store.taskPath(task.ID)
	if rpcErr != nil {
		return rpcErr
	}

	data, err := json.Marshal(task)
	if err != nil {
		return errors.ErrInternal.WithMessagef("failed to encode task %s: %v", task.ID, err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return errors.ErrInternal.WithMessagef("failed to write task %s: %v", task.ID, err)
	}

	return nil
}

func (store *FileTaskStore) SavePushConfig(
	ctx context.Context, id string, config *a2a.PushNotificationConfig,
) *errors.RpcError {
	if _, rpcErr := store.Load(ctx, id); rpcErr != nil {
		return rpcErr
	}

	path, rpcErr := store.pushPath(id)
	if rpcErr != nil {
		return rpcErr
	}

	data, err := json.Marshal(config)
	if err != nil {
		return errors.ErrInternal.WithMessagef("failed to encode push config for %s: %v", id, err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return errors.ErrInternal.WithMessagef("failed to write push config for %s: %v", id, err)
	}

	return nil
}

func (store *FileTaskStore) LoadPushConfig(
	ctx context.Context, id string,
) (*a2a.PushNotificationConfig, *errors.RpcError) {
	if _, rpcErr := store.Load(ctx, id); rpcErr != nil {
		return nil, rpcErr
	}

	path, rpcErr := store.pushPath(id)
	if rpcErr != nil {
		return nil, rpcErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.ErrInternal.WithMessagef("failed to read push config for %s: %v", id, err)
	}

	var config a2a.PushNotificationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to decode push config for %s: %v", id, err)
	}

	return &config, nil
}

func (store *FileTaskStore) taskPath(id string) (string, *errors.RpcError) {
	if rpcErr := validateFileID(id); rpcErr != nil {
		return "", rpcErr
	}
	return filepath.Join(store.dir, id+".json"), nil
}

func (store *FileTaskStore) pushPath(id string) (string, *errors.RpcError) {
	if rpcErr := validateFileID(id); rpcErr != nil {
		return "", rpcErr
	}
	return filepath.Join(store.dir, id+".push.json"), nil
}

// validateFileID rejects ids that cannot be used as a file name.
func validateFileID(id string) *errors.RpcError {
	if id == "" ||
		id == "." ||
		id == ".." ||
		strings.ContainsAny(id, "/\\") {
		return errors.ErrInvalidParams.WithMessagef("invalid task id %q", id)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}

	// Rename to final path (atomic on POSIX systems)
	return os.Rename(tempPath, path)
}
