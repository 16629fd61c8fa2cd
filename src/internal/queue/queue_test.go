package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPool_SameKeyRunsInOrder(t *testing.T) {
	pool := NewPool(4, 64, zap.NewNop())
	pool.Start(context.Background())

	key := Key{UserID: 1, ProjectID: 2, Branch: "feature/a"}

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		err := pool.Enqueue(key, func(ctx context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		assert.NoError(t, err)
	}
	pool.Stop()

	assert.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPool_StopWaitsForInFlightJobs(t *testing.T) {
	pool := NewPool(2, 16, zap.NewNop())
	pool.Start(context.Background())

	var mu sync.Mutex
	done := 0
	for i := 0; i < 20; i++ {
		key := Key{UserID: i, ProjectID: i, Branch: "b"}
		err := pool.Enqueue(key, func(ctx context.Context) {
			mu.Lock()
			done++
			mu.Unlock()
		})
		assert.NoError(t, err)
	}
	pool.Stop()

	assert.Equal(t, 20, done)
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	pool := NewPool(1, 4, zap.NewNop())
	pool.Start(context.Background())
	pool.Stop()

	err := pool.Enqueue(Key{UserID: 1}, func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestPool_FullShardRejects(t *testing.T) {
	pool := NewPool(1, 1, zap.NewNop())
	// Not started: nothing drains the shard.
	key := Key{UserID: 1, ProjectID: 1, Branch: "b"}

	assert.NoError(t, pool.Enqueue(key, func(ctx context.Context) {}))
	assert.Error(t, pool.Enqueue(key, func(ctx context.Context) {}))
}

func TestPool_RecoversFromPanickingJob(t *testing.T) {
	pool := NewPool(1, 8, zap.NewNop())
	pool.Start(context.Background())

	key := Key{UserID: 1, ProjectID: 1, Branch: "b"}
	assert.NoError(t, pool.Enqueue(key, func(ctx context.Context) { panic("boom") }))

	ran := false
	assert.NoError(t, pool.Enqueue(key, func(ctx context.Context) { ran = true }))
	pool.Stop()

	assert.True(t, ran)
}
