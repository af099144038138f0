package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/queue"
)

const defaultWorkers = 4

// JobSource is the queue boundary, satisfied by *queue.Queue. A nil
// job with nil error means the poll timed out with nothing to do.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
}

// Pool runs a fixed set of competing consumers over the shared queue.
// Each worker loops poll-with-timeout, process, re-check cancellation;
// workers share nothing beyond the queue and processor handles.
type Pool struct {
	workers   int
	source    JobSource
	processor *Processor
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(workers int, source JobSource, processor *Processor, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, source: source, processor: processor, logger: logger}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("ingestion workers starting", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopping")
				return
			}
			logger.Warn("queue poll failed", zap.Error(err))
			// Avoid spinning when the queue backend is down.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		if _, err := p.processor.Process(ctx, job); err != nil {
			// The document stays pending; re-enqueueing is an
			// external decision.
			logger.Error("job failed",
				zap.String("type", job.Type),
				zap.String("key", job.Key),
				zap.String("url", job.URL),
				zap.Error(err))
		}
	}
}
