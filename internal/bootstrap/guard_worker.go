package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"phishguard/adapter/in/worker"
	"phishguard/adapter/out/messaging"
	"phishguard/pkg/logger"

	"github.com/rs/zerolog"
)

const poolDrainTimeout = 20 * time.Second

// Worker consumes the content event stream through the event pool.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(deps *Dependencies) *Worker {
	cfg := deps.Config
	zlog := logger.Component("worker")

	dispatcher := worker.NewDispatcher(
		deps.Orchestrator,
		deps.SettingsService,
		deps.Rescan,
		deps.Metrics,
		logger.Component("dispatcher"),
	)

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.Workers = cfg.WorkerMax
	poolConfig.JobTimeout = cfg.WorkerTimeout
	pool := worker.NewPool(dispatcher, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                cfg.ConsumerGroup,
			Consumer:             cfg.WorkerID,
			Stream:               cfg.StreamName,
			Handler:              pool,
			Logger:               logger.Component("consumer"),
			ReadCount:            int64(cfg.ConsumerBatchSize),
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream Consumer configured for %s (group %s)", cfg.StreamName, cfg.ConsumerGroup)
	} else {
		logger.Warn("Redis not available, worker has no event source")
	}

	return w
}

// Start runs the pool and the consumer and blocks until Stop.
func (w *Worker) Start() error {
	// pool 은 consumer 와 별도 context: Stop 시 큐에 남은 이벤트까지 처리
	if err := w.pool.Start(context.Background()); err != nil {
		return err
	}

	// Redis Stream Consumer 시작 (있을 경우)
	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	<-w.ctx.Done()
	return nil
}

// Stop halts the consumer first, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), poolDrainTimeout)
	defer cancel()
	if err := w.pool.Stop(ctx); err != nil {
		w.zlog.Warn().Err(err).Msg("worker pool did not drain cleanly")
	}
}

func (w *Worker) Metrics() worker.PoolMetrics {
	return w.pool.Metrics()
}
