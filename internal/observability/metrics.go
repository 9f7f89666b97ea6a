// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

const (
	// QueueDepthMetric is the gauge reporting how many job ids wait in the queue.
	QueueDepthMetric = "indexer.queue.depth"
	// IdentifiersMetric counts indexed identifiers by outcome.
	IdentifiersMetric = "indexer.identifiers"
	// JobErrorsMetric counts job runs that stopped on a fatal error.
	JobErrorsMetric = "indexer.job.errors"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Lener reports a current length.
type Lener interface {
	Len() int
}

// RegisterQueueDepth publishes q.Len() as a gauge, read on every scrape.
// The returned function unregisters the callback.
func RegisterQueueDepth(q Lener) (func() error, error) {
	meter := otel.Meter("fhirindex/queue")

	gauge, err := meter.Int64ObservableGauge(QueueDepthMetric,
		otelmetric.WithDescription("Job ids waiting to be picked up by a worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		o.ObserveInt64(gauge, int64(q.Len()))
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("failed to register queue depth callback: %w", err)
	}
	return reg.Unregister, nil
}

// RunMetrics counts the outcomes of worker job runs.
type RunMetrics struct {
	identifiers otelmetric.Int64Counter
	jobErrors   otelmetric.Int64Counter
}

// NewRunMetrics creates the run counters on the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	meter := otel.Meter("fhirindex/worker")

	identifiers, err := meter.Int64Counter(IdentifiersMetric,
		otelmetric.WithDescription("Identifiers indexed by job workers, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create identifier counter: %w", err)
	}

	jobErrors, err := meter.Int64Counter(JobErrorsMetric,
		otelmetric.WithDescription("Job runs that ended in ERROR"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job error counter: %w", err)
	}

	return &RunMetrics{identifiers: identifiers, jobErrors: jobErrors}, nil
}

// RecordRun adds one run's tally. A nil receiver records nothing.
func (m *RunMetrics) RecordRun(ctx context.Context, succeeded, failed int, err error) {
	if m == nil {
		return
	}
	if succeeded > 0 {
		m.identifiers.Add(ctx, int64(succeeded), otelmetric.WithAttributes(attribute.String("outcome", "succeeded")))
	}
	if failed > 0 {
		m.identifiers.Add(ctx, int64(failed), otelmetric.WithAttributes(attribute.String("outcome", "failed")))
	}
	if err != nil {
		m.jobErrors.Add(ctx, 1)
	}
}
