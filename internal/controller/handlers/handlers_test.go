package handlers

import (
	"context"
	"io"
	"time"

	"fhirindex/internal/job"
)

// mockService implements JobService with per-test hooks.
type mockService struct {
	SubmitFunc          func(ctx context.Context, body string) (job.Summary, error)
	IndexImmediateFunc  func(ctx context.Context, body string) (job.Summary, job.Result, error)
	IndexIdentifierFunc func(ctx context.Context, identifier string, t job.IdentifierType) (job.Result, error)
	ActFunc             func(ctx context.Context, id string, action job.Action) (job.Summary, error)
	StatusFunc          func(ctx context.Context, id string) (job.Summary, error)
	ListFunc            func(ctx context.Context) ([]job.Summary, error)
}

func (m *mockService) Submit(ctx context.Context, r io.Reader) (job.Summary, error) {
	body, _ := io.ReadAll(r)
	return m.SubmitFunc(ctx, string(body))
}

func (m *mockService) IndexImmediate(ctx context.Context, r io.Reader) (job.Summary, job.Result, error) {
	body, _ := io.ReadAll(r)
	return m.IndexImmediateFunc(ctx, string(body))
}

func (m *mockService) IndexIdentifier(ctx context.Context, identifier string, t job.IdentifierType) (job.Result, error) {
	return m.IndexIdentifierFunc(ctx, identifier, t)
}

func (m *mockService) Act(ctx context.Context, id string, action job.Action) (job.Summary, error) {
	return m.ActFunc(ctx, id, action)
}

func (m *mockService) Status(ctx context.Context, id string) (job.Summary, error) {
	return m.StatusFunc(ctx, id)
}

func (m *mockService) List(ctx context.Context) ([]job.Summary, error) {
	return m.ListFunc(ctx)
}

// mockPinger implements Pinger.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingErr
}

var submittedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func summary(id string, status job.Status) job.Summary {
	return job.Summary{
		ID:             id,
		Status:         status,
		SubmittedAt:    submittedAt,
		IdentifierType: job.IdentifierMRN,
		Total:          3,
	}
}
