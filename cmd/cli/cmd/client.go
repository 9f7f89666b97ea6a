package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fhirindex/pkg/api"
)

// IndexClient handles API calls to the indexing service.
type IndexClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewIndexClient creates a new client with the given base URL and API key.
// Immediate jobs can run for a long time, so there is no overall timeout.
func NewIndexClient(baseURL, token string) *IndexClient {
	return &IndexClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Submit sends an identifier list to POST /api/jobs, or /api/jobs/immediate
// when immediate is set.
func (c *IndexClient) Submit(body io.Reader, immediate bool) (*api.ImmediateResponse, error) {
	path := "/api/jobs"
	if immediate {
		path = "/api/jobs/immediate"
	}

	var result api.ImmediateResponse
	if immediate {
		if err := c.do(http.MethodPost, path, "text/plain", body, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	if err := c.do(http.MethodPost, path, "text/plain", body, &result.Job); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /api/jobs/{id}.
func (c *IndexClient) GetJob(id string) (*api.JobSummary, error) {
	var result api.JobSummary
	if err := c.do(http.MethodGet, "/api/jobs/"+url.PathEscape(id), "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /api/jobs.
func (c *IndexClient) ListJobs() ([]api.JobSummary, error) {
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, "/api/jobs", "", nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// Act sends POST /api/jobs/actions.
func (c *IndexClient) Act(id, action string) (*api.JobSummary, error) {
	bodyBytes, err := json.Marshal(api.ActionRequest{ID: id, Action: action})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result api.JobSummary
	if err := c.do(http.MethodPost, "/api/jobs/actions", "application/json", bytes.NewReader(bodyBytes), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Index sends GET /api/index for a single identifier.
func (c *IndexClient) Index(identifier, identifierType string) (*api.IndexResponse, error) {
	q := url.Values{"id": {identifier}}
	if identifierType != "" {
		q.Set("type", identifierType)
	}

	var result api.IndexResponse
	if err := c.do(http.MethodGet, "/api/index?"+q.Encode(), "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *IndexClient) do(method, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	if contentType != "" {
		httpReq.Header.Add("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage pulls the message out of an api.ErrorResponse body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
