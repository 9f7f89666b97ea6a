// Package worker runs the pool of workers that drain the job queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"fhirindex/internal/job"
	"fhirindex/internal/queue"

	"golang.org/x/sync/errgroup"
)

// Dequeuer hands out ready job ids.
type Dequeuer interface {
	Dequeue(ctx context.Context) (string, bool, error)
}

// Handles returns the shared handle for a job id.
type Handles interface {
	Handle(id string) *queue.Handle
}

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, h *queue.Handle) (job.Result, error)
}

// Recorder receives the outcome of every job run.
type Recorder interface {
	RecordRun(ctx context.Context, succeeded, failed int, err error)
}

// Config holds configuration for the worker pool.
type Config struct {
	Name    string
	Size    int           // Number of concurrent workers (default: 1)
	Backoff time.Duration // Sleep when the queue is empty (default: 5s)
	Metrics Recorder      // Optional
}

// Pool is a fixed set of workers that pull job ids from the queue and process them.
type Pool struct {
	queue     Dequeuer
	handles   Handles
	processor Processor
	config    Config
	workerIDs []string
	logger    *slog.Logger
	done      chan struct{}
}

// New creates a worker pool.
func New(q Dequeuer, handles Handles, processor Processor, config Config, logger *slog.Logger) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}

	if config.Backoff <= 0 {
		config.Backoff = 5 * time.Second
	}

	if config.Name == "" {
		config.Name = "worker"
	}

	if logger == nil {
		logger = slog.Default()
	}

	ids := make([]string, config.Size)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", config.Name, i+1)
	}

	return &Pool{
		queue:     q,
		handles:   handles,
		processor: processor,
		config:    config,
		workerIDs: ids,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// WorkerIDs returns the ids of the pool's workers.
func (p *Pool) WorkerIDs() []string {
	return append([]string(nil), p.workerIDs...)
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has stopped. A worker busy with a job finishes its current identifier first.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Worker pool starting", "size", p.config.Size, "backoff", p.config.Backoff.String())

	var g errgroup.Group
	for _, id := range p.workerIDs {
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}

	err := g.Wait()
	close(p.done)
	p.logger.Info("Worker pool stopped")
	return err
}

// Done returns a channel that is closed when the pool has fully stopped.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	log := p.logger.With("worker_id", workerID)

	for ctx.Err() == nil {
		id, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Error("Dequeue failed", "error", err)
		}
		if err != nil || !ok {
			if !sleep(ctx, p.config.Backoff) {
				return
			}
			continue
		}

		p.processOne(ctx, log, id)
	}
}

// processOne runs a job and keeps the worker alive whatever happens to it.
func (p *Pool) processOne(ctx context.Context, log *slog.Logger, id string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker recovered from panic", "job_id", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	result, err := p.processor.Process(ctx, p.handles.Handle(id))
	if p.config.Metrics != nil {
		p.config.Metrics.RecordRun(context.WithoutCancel(ctx), result.Succeeded, result.Failed, err)
	}
	if err != nil {
		log.Error("Job failed", "job_id", id, "error", err)
		return
	}
	if result.Total() > 0 {
		log.Info("Job processed", "job_id", id, "succeeded", result.Succeeded, "failed", result.Failed)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
