// Package api contains shared JSON request/response structs for the indexing API.
package api

import "time"

// JobSummary describes an indexing job without its identifier list.
type JobSummary struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	IdentifierType string     `json:"identifier_type"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Total          int        `json:"total"`
	Processed      int        `json:"processed"`
	Error          string     `json:"error,omitempty"`
	ElapsedMillis  int64      `json:"elapsed_ms"`
}

// ListJobsResponse is the response body for GET /api/jobs.
type ListJobsResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// ActionRequest is the request body for POST /api/jobs/actions.
type ActionRequest struct {
	ID     string `json:"id" validate:"required"`
	Action string `json:"action" validate:"required"`
}

// IndexResult tallies identifiers (or, for a single identifier, documents)
// that indexed cleanly against those that did not.
type IndexResult struct {
	Succeeded        int     `json:"succeeded"`
	Failed           int     `json:"failed"`
	PercentSucceeded float64 `json:"percent_succeeded"`
}

// ImmediateResponse is the response body for POST /api/jobs/immediate.
type ImmediateResponse struct {
	Job    JobSummary  `json:"job"`
	Result IndexResult `json:"result"`
}

// IndexResponse is the response body for GET /api/index.
type IndexResponse struct {
	Identifier     string      `json:"identifier"`
	IdentifierType string      `json:"identifier_type"`
	Result         IndexResult `json:"result"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
