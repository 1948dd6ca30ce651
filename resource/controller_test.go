package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	err := c.AcquireMemory(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.MemoryUsage())

	err = c.AcquireMemory(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Over the limit: fail fast, usage unchanged.
	err = c.AcquireMemory(context.Background(), 20)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	err = c.AcquireMemory(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 0})

	err := c.AcquireMemory(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_QuerySlots(t *testing.T) {
	c := NewController(Config{MaxConcurrentQueries: 2})

	require.NoError(t, c.AcquireQuerySlot(context.Background()))
	require.NoError(t, c.AcquireQuerySlot(context.Background()))

	assert.False(t, c.TryAcquireQuerySlot())

	c.ReleaseQuerySlot()
	assert.True(t, c.TryAcquireQuerySlot())

	c.ReleaseQuerySlot()
	c.ReleaseQuerySlot()
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	assert.NoError(t, c.AcquireMemory(context.Background(), 100))
	c.ReleaseMemory(100)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.True(t, c.TryAcquireQuerySlot())
	assert.True(t, c.TryAcquireTransfer(1024))
}

func TestController_Transfer(t *testing.T) {
	c := NewController(Config{TransferLimitBytesPerSec: 1 << 20})

	// Within the burst: must not block.
	require.NoError(t, c.AcquireTransfer(context.Background(), 1024))
	assert.True(t, c.TryAcquireTransfer(1024))
}
