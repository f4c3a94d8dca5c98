package stores

import (
	"context"
	"sync"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
InMemoryTaskStore is the default TaskStore.  Tasks and push configs
live in maps guarded by a single RWMutex, and every read or write
goes through a deep copy so callers can never mutate stored state
behind the store's back.
*/
type InMemoryTaskStore struct {
	mu          sync.RWMutex
	tasks       map[string]*a2a.Task
	pushConfigs map[string]*a2a.PushNotificationConfig
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks:       make(map[string]*a2a.Task),
		pushConfigs: make(map[string]*a2a.PushNotificationConfig),
	}
}

func (store *InMemoryTaskStore) Load(
	ctx context.Context, id string,
) (*a2a.Task, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	task, ok := store.tasks[id]
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
	}

	return task.Clone(), nil
}

func (store *InMemoryTaskStore) Save(
	ctx context.Context, task *a2a.Task,
) *errors.RpcError {
	if task == nil || task.ID == "" {
		return errors.ErrInternal.WithMessagef("cannot save task without an id")
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.tasks[task.ID] = task.Clone()
	return nil
}

func (store *InMemoryTaskStore) SavePushConfig(
	ctx context.Context, id string, config *a2a.PushNotificationConfig,
) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.tasks[id]; !ok {
		return errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
	}

	cp := *config
	store.pushConfigs[id] = &cp
	return nil
}

func (store *InMemoryTaskStore) LoadPushConfig(
	ctx context.Context, id string,
) (*a2a.PushNotificationConfig, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if _, ok := store.tasks[id]; !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
	}

	config, ok := store.pushConfigs[id]
	if !ok {
		return nil, nil
	}

	cp := *config
	return &cp, nil
}
