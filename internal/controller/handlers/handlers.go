// Package handlers contains HTTP handlers for the indexing API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"fhirindex/internal/indexer"
	"fhirindex/internal/job"
	"fhirindex/internal/logger"
	"fhirindex/internal/store"
	"fhirindex/pkg/api"

	"github.com/go-playground/validator/v10"
)

// maxSubmissionBytes caps the size of an identifier list upload.
const maxSubmissionBytes = 32 << 20

// JobService is the indexing service the handlers drive.
type JobService interface {
	Submit(ctx context.Context, r io.Reader) (job.Summary, error)
	IndexImmediate(ctx context.Context, r io.Reader) (job.Summary, job.Result, error)
	IndexIdentifier(ctx context.Context, identifier string, t job.IdentifierType) (job.Result, error)
	Act(ctx context.Context, id string, action job.Action) (job.Summary, error)
	Status(ctx context.Context, id string) (job.Summary, error)
	List(ctx context.Context) ([]job.Summary, error)
}

// Pinger checks that the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs     JobService
	db       Pinger
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a new Handlers instance.
func New(jobs JobService, db Pinger, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		jobs:     jobs,
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps a service failure onto a status code.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var resErr *indexer.ResolutionError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, job.ErrEmptySubmission):
		h.httpError(w, "Submission contains no identifiers", http.StatusBadRequest)
	case errors.As(err, &tooLarge):
		h.httpError(w, "Submission too large", http.StatusRequestEntityTooLarge)
	case errors.As(err, &resErr):
		h.respondJson(w, http.StatusNotFound, api.ErrorResponse{
			Error:   "Identifier could not be resolved",
			Code:    strconv.Itoa(http.StatusNotFound),
			Details: resErr.Error(),
		})
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		logger.FromContext(r.Context(), h.logger).Error("Request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func toSummary(s job.Summary) api.JobSummary {
	return api.JobSummary{
		ID:             s.ID,
		Status:         s.Status.String(),
		IdentifierType: string(s.IdentifierType),
		SubmittedAt:    s.SubmittedAt,
		CompletedAt:    s.CompletedAt,
		Total:          s.Total,
		Processed:      s.Processed,
		Error:          s.ErrorText,
		ElapsedMillis:  s.ElapsedMillis,
	}
}

func toResult(r job.Result) api.IndexResult {
	return api.IndexResult{
		Succeeded:        r.Succeeded,
		Failed:           r.Failed,
		PercentSucceeded: r.PercentSucceeded(),
	}
}
