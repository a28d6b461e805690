package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"phishguard/adapter/out/messaging"
	"phishguard/core/port/out"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// ErrPoolStopped is returned by Handle once the pool is closed.
var ErrPoolStopped = errors.New("worker pool is not running")

// =============================================================================
// go-pkgz/pool 기반 이벤트 처리 풀
// =============================================================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int           // 워커 수
	BatchSize      int           // 배치 처리 크기
	WorkerChanSize int           // 워커 채널 버퍼 크기
	JobTimeout     time.Duration // 이벤트당 타임아웃
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		BatchSize:      1,
		WorkerChanSize: 100,
		JobTimeout:     30 * time.Second,
	}
}

// PoolMetrics is a snapshot of pool counters.
type PoolMetrics struct {
	Submitted int64 `json:"submitted"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Pool fans stream events out to a fixed set of workers, each calling the dispatcher.
type Pool struct {
	dispatcher *Dispatcher
	config     *PoolConfig
	log        zerolog.Logger

	wg *pool.WorkerGroup[*out.ContentEvent]

	mu      sync.Mutex
	started bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

var _ messaging.EventHandler = (*Pool)(nil)

// eventWorker implements pool.Worker for content events.
type eventWorker struct {
	p *Pool
}

func (w *eventWorker) Do(ctx context.Context, ev *out.ContentEvent) error {
	return w.p.process(ctx, ev)
}

// NewPool creates a pool. config may be nil.
func NewPool(dispatcher *Dispatcher, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	return &Pool{
		dispatcher: dispatcher,
		config:     config,
		log:        log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	p.wg = pool.New[*out.ContentEvent](p.config.Workers, &eventWorker{p: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()
	if err := p.wg.Go(ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
	return nil
}

// Stop closes the pool and waits for queued events.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	err := p.wg.Close(ctx)
	p.log.Info().
		Int64("processed", p.processed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("worker pool stopped")
	return err
}

// Handle parses a stream payload and queues it. It implements messaging.EventHandler.
func (p *Pool) Handle(_ context.Context, _ string, data []byte) error {
	ev, err := ParseEvent(data)
	if err != nil {
		return err
	}
	if !p.Submit(ev) {
		return ErrPoolStopped
	}
	return nil
}

// Submit queues one event. It returns false when the pool is not running.
func (p *Pool) Submit(ev *out.ContentEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.rejected.Add(1)
		return false
	}
	p.wg.Submit(ev)
	p.submitted.Add(1)
	return true
}

// Metrics returns the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) process(ctx context.Context, ev *out.ContentEvent) error {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	start := time.Now()
	err := p.dispatcher.Dispatch(jobCtx, ev)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		p.log.Error().
			Err(err).
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Dur("elapsed", time.Since(start)).
			Msg("event processing failed")
	}
	return err
}
