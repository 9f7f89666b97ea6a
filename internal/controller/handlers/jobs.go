package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"fhirindex/internal/job"
	"fhirindex/internal/logger"
	"fhirindex/pkg/api"
)

// SubmitJob handles POST /api/jobs.
// The body is a plain text identifier list, optionally led by a type directive.
// The job is queued for the worker pool.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

	summary, err := h.jobs.Submit(r.Context(), body)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusAccepted, toSummary(summary))
}

// IndexImmediate handles POST /api/jobs/immediate.
// The submission is indexed before the response is written.
func (h *Handlers) IndexImmediate(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

	summary, result, err := h.jobs.IndexImmediate(r.Context(), body)
	if err != nil && summary.ID == "" {
		h.serviceError(w, r, err)
		return
	}
	if err != nil {
		// the job ran and its error is recorded on it
		logger.FromContext(r.Context(), h.logger).Warn("Immediate job ended with error", "job_id", summary.ID, "error", err)
	}
	h.respondJson(w, http.StatusOK, api.ImmediateResponse{
		Job:    toSummary(summary),
		Result: toResult(result),
	})
}

// ActOnJob handles POST /api/jobs/actions.
func (h *Handlers) ActOnJob(w http.ResponseWriter, r *http.Request) {
	var req api.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "id and a valid action are required",
			Code:    "400",
			Details: err.Error(),
		})
		return
	}

	action, err := job.ParseAction(req.Action)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.jobs.Act(r.Context(), req.ID, action)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toSummary(summary))
}

// ListJobs handles GET /api/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.jobs.List(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobSummary, 0, len(summaries))}
	for _, s := range summaries {
		resp.Jobs = append(resp.Jobs, toSummary(s))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toSummary(summary))
}

// IndexIdentifier handles GET /api/index?id=&type=.
// It indexes one identifier outside of any job. type defaults to MRN.
func (h *Handlers) IndexIdentifier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	identifier := strings.TrimSpace(q.Get("id"))
	if identifier == "" {
		h.httpError(w, "id is required", http.StatusBadRequest)
		return
	}

	t := job.DefaultIdentifierType
	if raw := q.Get("type"); raw != "" {
		parsed, err := job.ParseIdentifierType(raw)
		if err != nil {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		t = parsed
	}

	result, err := h.jobs.IndexIdentifier(r.Context(), identifier, t)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.IndexResponse{
		Identifier:     identifier,
		IdentifierType: string(t),
		Result:         toResult(result),
	})
}
