// Package solr writes documents to Solr collections through the JSON update handler.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Collections written by the indexer.
const (
	CollectionDocuments    = "documents"
	CollectionPatient      = "patient"
	CollectionPatientSlave = "patient-slave"
)

// DefaultTimeout bounds each Solr request.
const DefaultTimeout = 30 * time.Second

// Document is a Solr input document keyed by field name.
type Document map[string]any

// Config holds Solr connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to a Solr server.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// NewClient creates a client for the Solr root at cfg.URL, e.g. http://host:8983.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(cfg.URL, "/"),
		Username:   cfg.Username,
		Password:   cfg.Password,
		HTTPClient: httpClient,
	}
}

// APIError represents an error response from Solr.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("solr error (%d): %s", e.StatusCode, e.Message)
}

// Add sends one document to collection. It becomes visible after Commit.
func (c *Client) Add(ctx context.Context, collection string, doc Document) error {
	body, err := json.Marshal([]Document{doc})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return c.update(ctx, collection, nil, body)
}

// Commit commits pending updates in every collection the indexer writes.
func (c *Client) Commit(ctx context.Context) error {
	for _, collection := range []string{CollectionDocuments, CollectionPatient, CollectionPatientSlave} {
		if err := c.CommitCollection(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

// CommitCollection commits pending updates in a single collection.
func (c *Client) CommitCollection(ctx context.Context, collection string) error {
	return c.update(ctx, collection, url.Values{"commit": {"true"}}, []byte("[]"))
}

// Version returns the server's version string, e.g. "Solr Release 9.4.0".
func (c *Client) Version(ctx context.Context) (string, error) {
	var info struct {
		Lucene struct {
			SolrImplVersion string `json:"solr-impl-version"`
		} `json:"lucene"`
	}
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/solr/admin/info/system?wt=json", nil, &info); err != nil {
		return "", err
	}
	if info.Lucene.SolrImplVersion == "" {
		return "", fmt.Errorf("solr did not report a version")
	}
	return "Solr Release " + info.Lucene.SolrImplVersion, nil
}

func (c *Client) update(ctx context.Context, collection string, params url.Values, body []byte) error {
	q := url.Values{"wt": {"json"}}
	for k, v := range params {
		q[k] = v
	}
	endpoint := fmt.Sprintf("%s/solr/%s/update?%s", c.BaseURL, url.PathEscape(collection), q.Encode())

	var resp struct {
		ResponseHeader struct {
			Status int `json:"status"`
		} `json:"responseHeader"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return fmt.Errorf("failed to update %s: %w", collection, err)
	}
	if resp.ResponseHeader.Status != 0 {
		return fmt.Errorf("failed to update %s: %w", collection, &APIError{StatusCode: http.StatusOK, Message: fmt.Sprintf("status %d", resp.ResponseHeader.Status)})
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Accept", "application/json")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
