// Package queue runs webhook event handlers on a bounded worker pool.
//
// Jobs are sharded onto workers by key, so all jobs sharing a key execute
// on the same goroutine in enqueue order. The webhook layer keys jobs by
// (user, project, branch), which serializes the events of one review
// cycle while unrelated branches process in parallel.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of deferred event processing. The context passed to the
// job is the pool's run context, cancelled on Stop.
type Job func(ctx context.Context)

// Key identifies the serialization domain of a job.
type Key struct {
	UserID    int
	ProjectID int
	Branch    string
}

// Pool is a fixed set of workers, each draining its own bounded channel.
type Pool struct {
	shards []chan Job
	wg     sync.WaitGroup
	log    *zap.Logger

	mu      sync.Mutex
	stopped bool
}

func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	shards := make([]chan Job, workers)
	for i := range shards {
		shards[i] = make(chan Job, queueSize)
	}
	return &Pool{shards: shards, log: logger}
}

// Start launches the workers. Each worker owns one shard channel and runs
// its jobs sequentially until Stop closes the channel.
func (p *Pool) Start(ctx context.Context) {
	for i, shard := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, shard)
	}
	p.log.Info("event worker pool started", zap.Int("workers", len(p.shards)))
}

func (p *Pool) work(ctx context.Context, id int, shard <-chan Job) {
	defer p.wg.Done()
	for job := range shard {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("event worker recovered from panic",
						zap.Int("worker", id), zap.Any("panic", r))
				}
			}()
			job(ctx)
		}()
	}
}

// Enqueue hands a job to the worker owning the key's shard. Returns an
// error when that shard's queue is full or the pool is stopped; the
// webhook layer maps a full queue to 503 so GitLab retries the delivery.
func (p *Pool) Enqueue(key Key, job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("event queue is stopped")
	}
	shard := p.shards[p.shardFor(key)]
	select {
	case shard <- job:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		return fmt.Errorf("event queue is full")
	}
}

// Stop closes the shards and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("event worker pool stopped")
}

func (p *Pool) shardFor(key Key) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.Itoa(key.UserID)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(key.ProjectID)))
	h.Write([]byte{0})
	h.Write([]byte(key.Branch))
	return int(h.Sum32() % uint32(len(p.shards)))
}
