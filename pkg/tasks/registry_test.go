package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryLifecycle(t *testing.T) {
	registry := NewRegistry()

	assert.False(t, registry.Running("t1"))
	assert.False(t, registry.Canceled("t1"))

	// Cancel with no running handler leaves no mark behind: the caller
	// owns the transition and a later run must start clean.
	assert.False(t, registry.Cancel("t1"))
	assert.False(t, registry.Canceled("t1"))

	ctx, cancel := context.WithCancel(context.Background())
	registry.Track("t1", cancel)
	assert.True(t, registry.Running("t1"))

	assert.True(t, registry.Cancel("t1"))
	assert.True(t, registry.Canceled("t1"))
	assert.Error(t, ctx.Err())

	registry.Untrack("t1")
	assert.False(t, registry.Running("t1"))
	assert.False(t, registry.Canceled("t1"))
}
