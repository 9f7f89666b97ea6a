package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"fhirindex/internal/lazy"
)

// Capabilities fetches the server's CapabilityStatement once and caches it.
// The metadata endpoint is read without credentials because it advertises
// where credentials come from.
type Capabilities struct {
	url  string
	http *http.Client
	cell lazy.Cell[[]byte]
}

// NewCapabilities creates a cached reader of baseURL's metadata endpoint.
func NewCapabilities(baseURL string, httpClient *http.Client) *Capabilities {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Capabilities{url: normalizeBase(baseURL) + "metadata", http: httpClient}
}

// Metadata returns the raw CapabilityStatement.
func (c *Capabilities) Metadata(ctx context.Context) ([]byte, error) {
	return c.cell.GetOrInit(ctx, c.fetch)
}

// FHIRVersion returns the FHIR version the server reports.
func (c *Capabilities) FHIRVersion(ctx context.Context) (string, error) {
	raw, err := c.Metadata(ctx)
	if err != nil {
		return "", err
	}
	var cs struct {
		FHIRVersion string `json:"fhirVersion"`
	}
	if err := json.Unmarshal(raw, &cs); err != nil {
		return "", fmt.Errorf("failed to decode capability statement: %w", err)
	}
	return cs.FHIRVersion, nil
}

func (c *Capabilities) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", contentTypeFHIR)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, URL: c.url, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var h resourceHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if h.ResourceType != "CapabilityStatement" && h.ResourceType != "Conformance" {
		return nil, fmt.Errorf("unexpected metadata resource type %q", h.ResourceType)
	}
	return body, nil
}
