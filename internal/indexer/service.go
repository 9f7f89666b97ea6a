package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fhirindex/internal/job"
	"fhirindex/internal/queue"
)

// JobStore is the part of the job store the service needs.
type JobStore interface {
	Save(ctx context.Context, rec *job.Record) error
	Fetch(ctx context.Context, id string) (*job.Record, error)
	ListSummaries(ctx context.Context) ([]job.Summary, error)
}

// Invalidator forces the queue to rescan on its next dequeue.
type Invalidator interface {
	InvalidateNow()
}

// Service is the entry point for submitting, running and managing indexing jobs.
type Service struct {
	store    JobStore
	registry *queue.Registry
	queue    Invalidator
	pipeline *Pipeline
	indexer  IdentifierIndexer
	logger   *slog.Logger
}

// NewService wires the service together.
func NewService(store JobStore, registry *queue.Registry, q Invalidator, pipeline *Pipeline, ix IdentifierIndexer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		queue:    q,
		pipeline: pipeline,
		indexer:  ix,
		logger:   logger,
	}
}

// Submit stores a new queued job for the worker pool.
func (s *Service) Submit(ctx context.Context, r io.Reader) (job.Summary, error) {
	sub, err := job.ParseSubmission(r)
	if err != nil {
		return job.Summary{}, err
	}

	rec := sub.Record()
	if err := s.store.Save(ctx, rec); err != nil {
		return job.Summary{}, err
	}
	s.queue.InvalidateNow()

	s.logger.Info("Job submitted", "job_id", rec.ID(), "identifier_type", string(rec.IdentifierType()), "total", rec.Total())
	return rec.Summary(), nil
}

// IndexImmediate runs a submission in the caller's goroutine. The job is
// persisted like a queued one, so its outcome shows up in the job list.
func (s *Service) IndexImmediate(ctx context.Context, r io.Reader) (job.Summary, job.Result, error) {
	sub, err := job.ParseSubmission(r)
	if err != nil {
		return job.Summary{}, job.Result{}, err
	}

	rec := sub.Record()
	h := s.registry.Register(rec)
	result, err := s.pipeline.Process(ctx, h)
	return rec.Summary(), result, err
}

// IndexIdentifier indexes a single identifier outside of any job.
func (s *Service) IndexIdentifier(ctx context.Context, identifier string, t job.IdentifierType) (job.Result, error) {
	result, err := s.indexer.Index(ctx, t, identifier)
	if err != nil {
		return result, err
	}
	if err := s.indexer.Flush(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Act applies an action to a job. A job that no worker is running is closed
// right away, which persists the change.
func (s *Service) Act(ctx context.Context, id string, action job.Action) (job.Summary, error) {
	action, err := job.ParseAction(string(action))
	if err != nil {
		return job.Summary{}, err
	}

	for attempt := 0; ; attempt++ {
		h := s.registry.Handle(id)
		rec, err := h.Record(ctx)
		if err != nil {
			return job.Summary{}, err
		}

		if _, err := rec.Apply(action); err != nil {
			if errors.Is(err, job.ErrClosed) && attempt == 0 {
				// the record is being torn down; act on the persisted state instead
				select {
				case <-h.Done():
					continue
				case <-ctx.Done():
					return job.Summary{}, ctx.Err()
				}
			}
			return job.Summary{}, fmt.Errorf("failed to %s job %s: %w", action, id, err)
		}

		summary := rec.Summary()
		if h.Claim() {
			rec.Close(context.WithoutCancel(ctx))
			h.Release()
		}
		s.queue.InvalidateNow()

		s.logger.Info("Job action applied", "job_id", id, "action", string(action), "status", summary.Status.String())
		return summary, nil
	}
}

// Status returns a job's current summary, preferring the live in-memory record.
func (s *Service) Status(ctx context.Context, id string) (job.Summary, error) {
	if rec, ok := s.live(id); ok {
		return rec.Summary(), nil
	}
	rec, err := s.store.Fetch(ctx, id)
	if err != nil {
		return job.Summary{}, err
	}
	return rec.Summary(), nil
}

// List returns every job, newest first.
func (s *Service) List(ctx context.Context) ([]job.Summary, error) {
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, err
	}
	for i, sum := range summaries {
		if rec, ok := s.live(sum.ID); ok {
			summaries[i] = rec.Summary()
		}
	}
	return summaries, nil
}

func (s *Service) live(id string) (*job.Record, bool) {
	h, ok := s.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	return h.Loaded()
}
