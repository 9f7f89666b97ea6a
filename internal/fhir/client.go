// Package fhir is a minimal FHIR REST client for reading patients and
// clinical documents.
package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fhirindex/internal/auth"

	"golang.org/x/time/rate"
)

const (
	// DefaultDocumentClasses is the DocumentReference class searched for notes.
	DefaultDocumentClasses = "clinical-notes"
	// DefaultTimeout bounds each FHIR request.
	DefaultTimeout = 30 * time.Second

	contentTypeFHIR = "application/fhir+json"
	maxResponseSize = 32 << 20
	maxSearchPages  = 100
)

// Config holds FHIR client settings.
type Config struct {
	BaseURL           string
	DocumentClasses   string
	RequestsPerSecond float64
	Timeout           time.Duration
	// Headers are extra request headers, one "Name: value" per line.
	Headers string
}

// Client reads resources from a FHIR server.
type Client struct {
	base     string
	http     *http.Client
	authn    auth.Authenticator
	limiter  *rate.Limiter
	classes  string
	headers  http.Header
	timeout  time.Duration
	metadata *Capabilities
}

// NewClient creates a client that authenticates each request with authn.
// metadata may be nil, in which case the client fetches its own.
func NewClient(cfg Config, httpClient *http.Client, authn auth.Authenticator, metadata *Capabilities) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.DocumentClasses == "" {
		cfg.DocumentClasses = DefaultDocumentClasses
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if authn == nil {
		authn, _ = auth.New(auth.Config{Scheme: auth.SchemeNone}, nil, nil)
	}
	if metadata == nil {
		metadata = NewCapabilities(cfg.BaseURL, httpClient)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		base:     normalizeBase(cfg.BaseURL),
		http:     httpClient,
		authn:    authn,
		limiter:  limiter,
		classes:  strings.ReplaceAll(cfg.DocumentClasses, " ", ""),
		headers:  ParseHeaders(cfg.Headers),
		timeout:  cfg.Timeout,
		metadata: metadata,
	}
}

// BaseURL returns the server root, always ending in a slash.
func (c *Client) BaseURL() string {
	return c.base
}

// Metadata returns the server's CapabilityStatement.
func (c *Client) Metadata(ctx context.Context) ([]byte, error) {
	return c.metadata.Metadata(ctx)
}

// ReadPatient reads a Patient by id.
func (c *Client) ReadPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	if err := c.get(ctx, c.base+"Patient/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReadDocument reads a DocumentReference by id.
func (c *Client) ReadDocument(ctx context.Context, id string) (*DocumentReference, error) {
	var d DocumentReference
	if err := c.get(ctx, c.base+"DocumentReference/"+url.PathEscape(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadBinary reads a Binary by absolute or server-relative URL.
func (c *Client) ReadBinary(ctx context.Context, ref string) (*Binary, error) {
	var b Binary
	if err := c.get(ctx, c.resolve(ref), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SearchPatients returns patients carrying the identifier system|value.
func (c *Client) SearchPatients(ctx context.Context, system, value string) ([]*Patient, error) {
	q := url.Values{"identifier": {system + "|" + value}}
	var patients []*Patient
	err := c.search(ctx, c.base+"Patient?"+q.Encode(), "Patient", func(raw json.RawMessage) error {
		var p Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		patients = append(patients, &p)
		return nil
	})
	return patients, err
}

// SearchDocuments returns the patient's documents in the configured classes.
func (c *Client) SearchDocuments(ctx context.Context, patientID string) ([]*DocumentReference, error) {
	q := url.Values{
		"patient": {patientID},
		"class":   {c.classes},
	}
	var docs []*DocumentReference
	err := c.search(ctx, c.base+"DocumentReference?"+q.Encode(), "DocumentReference", func(raw json.RawMessage) error {
		var d DocumentReference
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		docs = append(docs, &d)
		return nil
	})
	return docs, err
}

// search follows next links and passes every entry of resourceType to fn.
func (c *Client) search(ctx context.Context, pageURL, resourceType string, fn func(json.RawMessage) error) error {
	for page := 0; pageURL != "" && page < maxSearchPages; page++ {
		var bundle Bundle
		if err := c.get(ctx, pageURL, &bundle); err != nil {
			return err
		}

		for _, e := range bundle.Entry {
			var h resourceHeader
			if err := json.Unmarshal(e.Resource, &h); err != nil || h.ResourceType != resourceType {
				// search results may include OperationOutcome entries
				continue
			}
			if err := fn(e.Resource); err != nil {
				return fmt.Errorf("failed to decode %s: %w", resourceType, err)
			}
		}

		pageURL = bundle.Next()
		if pageURL != "" {
			pageURL = c.resolve(pageURL)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, target string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", contentTypeFHIR)
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if err := c.authn.Authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fhir request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read fhir response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.authn.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return &APIError{Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode fhir response: %w", err)
	}
	return nil
}

func (c *Client) resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.base + strings.TrimPrefix(ref, "/")
}

// ParseHeaders parses "Name: value" lines into a header set.
func ParseHeaders(s string) http.Header {
	h := http.Header{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, _ := strings.Cut(line, ":")
		if name = strings.TrimSpace(name); name != "" {
			h.Add(name, strings.TrimSpace(value))
		}
	}
	return h
}

func normalizeBase(base string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
