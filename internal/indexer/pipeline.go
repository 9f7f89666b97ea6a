package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"fhirindex/internal/job"
	"fhirindex/internal/logger"
	"fhirindex/internal/queue"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCheckpointInterval is how many identifiers are processed between
// progress writes.
const DefaultCheckpointInterval = 20

// IdentifierIndexer indexes one identifier at a time.
type IdentifierIndexer interface {
	Index(ctx context.Context, t job.IdentifierType, identifier string) (job.Result, error)
	Flush(ctx context.Context) error
}

// RecordSaver persists job progress.
type RecordSaver interface {
	Save(ctx context.Context, rec *job.Record) error
}

// PipelineConfig holds pipeline settings.
type PipelineConfig struct {
	CheckpointInterval int
}

// Pipeline drives a queued job through its identifiers.
type Pipeline struct {
	indexer    IdentifierIndexer
	store      RecordSaver
	checkpoint int
	logger     *slog.Logger

	tracer      trace.Tracer
	identifiers metric.Int64Counter
	jobs        metric.Int64Counter
}

// NewPipeline creates a Pipeline.
func NewPipeline(ix IdentifierIndexer, store RecordSaver, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if log == nil {
		log = slog.Default()
	}

	meter := otel.Meter("fhirindex/indexer")
	identifiers, err := meter.Int64Counter("indexer.identifiers",
		metric.WithDescription("Identifiers processed, by outcome"))
	if err != nil {
		log.Warn("Failed to create identifier counter", "error", err)
	}
	jobs, err := meter.Int64Counter("indexer.jobs",
		metric.WithDescription("Job runs finished, by final status"))
	if err != nil {
		log.Warn("Failed to create job counter", "error", err)
	}

	return &Pipeline{
		indexer:     ix,
		store:       store,
		checkpoint:  cfg.CheckpointInterval,
		logger:      log,
		tracer:      otel.Tracer("fhirindex/indexer"),
		identifiers: identifiers,
		jobs:        jobs,
	}
}

// Process runs the job behind h if it is queued and no one else is running it.
// The record is closed on return, which persists it and drops it from the registry.
// Cancelling ctx stops the job after the current identifier and hands it back
// to the queue.
func (p *Pipeline) Process(ctx context.Context, h *queue.Handle) (job.Result, error) {
	var result job.Result

	if !h.Claim() {
		return result, nil
	}
	defer h.Release()

	rec, err := h.Record(ctx)
	if err != nil {
		return result, err
	}
	// teardown must persist even when ctx is already cancelled
	defer rec.Close(context.WithoutCancel(ctx))

	if !rec.HasStatus(job.StatusQueued) {
		return result, nil
	}
	return p.run(ctx, rec)
}

func (p *Pipeline) run(ctx context.Context, rec *job.Record) (job.Result, error) {
	var result job.Result

	ctx = logger.WithJobID(ctx, rec.ID())
	log := logger.FromContext(ctx, p.logger)

	ctx, span := p.tracer.Start(ctx, "index_job",
		trace.WithAttributes(
			attribute.String("job.id", rec.ID()),
			attribute.String("job.identifier_type", string(rec.IdentifierType())),
			attribute.Int("job.total", rec.Total()),
			attribute.Int("job.processed", rec.Processed()),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	if !rec.Start() {
		return result, nil
	}
	if err := p.store.Save(ctx, rec); err != nil {
		rec.Error(err.Error())
		span.RecordError(err)
		return result, err
	}

	log.Info("Job started", "total", rec.Total(), "processed", rec.Processed())

	var runErr error
	idType := rec.IdentifierType()
	count := 0

	for _, identifier := range rec.Identifiers(true) {
		if !rec.HasStatus(job.StatusRunning) {
			break
		}
		if ctx.Err() != nil {
			log.Info("Shutting down, returning job to queue", "processed", rec.Processed())
			rec.Yield()
			break
		}

		if count > 0 && count%p.checkpoint == 0 {
			if err := p.checkpointProgress(ctx, rec); err != nil {
				runErr = err
				rec.Error(err.Error())
				break
			}
		}

		// the current identifier finishes even if ctx is cancelled meanwhile
		ok, err := p.indexOne(context.WithoutCancel(ctx), idType, identifier)
		if err != nil {
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				log.Error("Indexing failed", "identifier", identifier, "error", err)
				p.countIdentifier(ctx, "error")
				runErr = err
				// a restart requested meanwhile wins over the failed run
				if !rec.HasStatus(job.StatusQueued) {
					rec.Error(err.Error())
				}
				break
			}
			log.Warn("Identifier not resolved", "identifier", identifier, "reason", resErr.Reason)
		}

		result.Success(ok)
		p.countIdentifier(ctx, outcome(ok))
		rec.Advance()
		count++
	}

	if rec.HasStatus(job.StatusRunning) {
		rec.Complete()
	}

	if err := p.indexer.Flush(context.WithoutCancel(ctx)); err != nil {
		log.Error("Failed to flush index", "error", err)
		if runErr == nil {
			runErr = err
			rec.Error(err.Error())
		}
	}

	status := rec.Status()
	span.SetAttributes(
		attribute.String("job.status", status.String()),
		attribute.Int("job.succeeded", result.Succeeded),
		attribute.Int("job.failed", result.Failed),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	if p.jobs != nil {
		p.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
	}

	log.Info("Job stopped",
		"status", status.String(),
		"processed", rec.Processed(),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, runErr
}

// indexOne indexes one identifier. An identifier succeeds when it resolves
// and all of its documents are indexed.
func (p *Pipeline) indexOne(ctx context.Context, t job.IdentifierType, identifier string) (ok bool, err error) {
	ctx, span := p.tracer.Start(ctx, "index_identifier",
		trace.WithAttributes(
			attribute.String("identifier.type", string(t)),
			attribute.String("identifier.value", identifier),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, &FatalError{Value: r, Stack: debug.Stack()}
		}
		if err != nil {
			span.RecordError(err)
		}
	}()

	res, err := p.indexer.Index(ctx, t, identifier)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Int("documents.succeeded", res.Succeeded), attribute.Int("documents.failed", res.Failed))
	return res.Failed == 0, nil
}

func (p *Pipeline) checkpointProgress(ctx context.Context, rec *job.Record) error {
	if err := p.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to checkpoint progress: %w", err)
	}
	if err := p.indexer.Flush(ctx); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) countIdentifier(ctx context.Context, outcome string) {
	if p.identifiers != nil {
		p.identifiers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func outcome(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
