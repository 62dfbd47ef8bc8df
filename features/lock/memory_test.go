package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AcquireRelease(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	res, err := store.Acquire(ctx, "sermon", "weekly run")
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.NotEmpty(t, res.LockID)

	second, err := store.Acquire(ctx, "sermon", "another run")
	require.NoError(t, err)
	assert.False(t, second.Granted)
	require.NotNil(t, second.Holder)
	assert.Equal(t, "weekly run", second.Holder.Description)

	// Different task types do not contend.
	other, err := store.Acquire(ctx, "bulletin", "issues")
	require.NoError(t, err)
	assert.True(t, other.Granted)

	require.NoError(t, store.Release(ctx, "sermon"))
	third, err := store.Acquire(ctx, "sermon", "after release")
	require.NoError(t, err)
	assert.True(t, third.Granted)
}

func TestMemoryStore_MutualExclusion(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	granted := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Acquire(ctx, "sermon", "racer")
			if err == nil && res.Granted {
				granted <- res.LockID
			}
		}()
	}
	wg.Wait()
	close(granted)

	var winners []string
	for id := range granted {
		winners = append(winners, id)
	}
	assert.Len(t, winners, 1)
}

func TestMemoryStore_ReadTimeExpiry(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	res, err := store.Acquire(ctx, "sermon", "stale run")
	require.NoError(t, err)
	require.True(t, res.Granted)

	// Move the clock three hours forward.
	store.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	info, err := store.Status(ctx, "sermon")
	require.NoError(t, err)
	assert.Nil(t, info)

	// The expired lock was cleared, so a new acquire wins even at the
	// shifted clock.
	again, err := store.Acquire(ctx, "sermon", "fresh run")
	require.NoError(t, err)
	assert.True(t, again.Granted)
}

func TestMemoryStore_ExpiredLockIsReacquirable(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	_, err := store.Acquire(ctx, "sermon", "crashed worker")
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	// Acquire itself treats the stale holder as expired, without a
	// status read in between.
	res, err := store.Acquire(ctx, "sermon", "new worker")
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestMemoryStore_HeartbeatAndStop(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	_, err := store.Acquire(ctx, "sermon", "run")
	require.NoError(t, err)

	require.NoError(t, store.Heartbeat(ctx, "sermon", "2024-06-02", 3, 10))
	require.NoError(t, store.RequestStop(ctx, "sermon"))

	info, err := store.Status(ctx, "sermon")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2024-06-02", info.CurrentItem)
	assert.Equal(t, 3, info.ProcessedCount)
	assert.Equal(t, 10, info.TotalCount)
	assert.True(t, info.StopRequested)
}

func TestMemoryStore_ReleaseIdempotent(t *testing.T) {
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	assert.NoError(t, store.Release(ctx, "sermon"))
	assert.NoError(t, store.Release(ctx, "sermon"))

	info, err := store.Status(ctx, "sermon")
	require.NoError(t, err)
	assert.Nil(t, info)
}
