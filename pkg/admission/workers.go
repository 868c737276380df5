package admission

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/photogate/photogate/internal/logger"
)

// ErrPoolClosed is returned by Schedule after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool closed")

// QueueMetrics receives worker pool depth observations. A nil
// QueueMetrics is a no-op.
type QueueMetrics interface {
	SetQueueDepth(depth int)
}

// PoolConfig sizes the background pipeline worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent pipeline runs. Zero means
	// runtime.NumCPU.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// QueueSize bounds the pending job buffer. Zero means 4x workers.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// DrainTimeout bounds how long Shutdown waits for in-flight runs.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// ApplyDefaults fills zero values with working defaults.
func (c *PoolConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 4
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// runFunc executes one pipeline run for a record id.
type runFunc func(ctx context.Context, id string)

// pool is a bounded background worker pool for pipeline runs. Jobs are
// record ids; each job is executed at most once per submission.
type pool struct {
	cfg     PoolConfig
	run     runFunc
	jobs    chan string
	wg      sync.WaitGroup
	metrics QueueMetrics

	mu     sync.RWMutex
	closed bool
}

// newPool starts cfg.Workers goroutines draining the job channel.
func newPool(cfg PoolConfig, run runFunc) *pool {
	cfg.ApplyDefaults()

	p := &pool{
		cfg:  cfg,
		run:  run,
		jobs: make(chan string, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *pool) worker(n int) {
	defer p.wg.Done()
	for id := range p.jobs {
		p.observeDepth()
		// Background runs get their own lifetime, detached from the
		// request that scheduled them.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		p.run(ctx, id)
		cancel()
	}
	logger.Debug("pipeline worker stopped", "worker", n)
}

// Schedule enqueues a pipeline run. It blocks while the queue is full
// and fails with ErrPoolClosed once Shutdown has begun.
//
// The read lock spans the send: Shutdown takes the write lock before
// closing the channel, so a sender blocked on a full queue can never
// hit a closed channel.
func (p *pool) Schedule(ctx context.Context, id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- id:
		p.observeDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits up to DrainTimeout for queued
// and in-flight runs to finish. Interrupted runs leave records in
// PROCESSING; they stay there until an explicit reprocess.
func (p *pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.DrainTimeout):
		return errors.New("worker pool drain timed out")
	}
}

func (p *pool) observeDepth() {
	if p.metrics != nil {
		p.metrics.SetQueueDepth(len(p.jobs))
	}
}
