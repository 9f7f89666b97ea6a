package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAuth stamps a fixed bearer token and counts invalidations.
type stubAuth struct {
	token       string
	invalidated atomic.Int32
	err         error
}

func (s *stubAuth) Authorize(_ context.Context, req *http.Request) error {
	if s.err != nil {
		return s.err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	return nil
}

func (s *stubAuth) Invalidate() {
	s.invalidated.Add(1)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", contentTypeFHIR)
	_ = json.NewEncoder(w).Encode(v)
}

func entry(t *testing.T, v any) BundleEntry {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return BundleEntry{Resource: raw}
}

func TestClient_ReadPatient(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = r.Header.Clone()
		mu.Unlock()

		assert.Equal(t, "/fhir/Patient/p-1", r.URL.Path)
		writeJSON(w, Patient{
			ResourceType: "Patient",
			ID:           "p-1",
			Identifier:   []Identifier{{System: "urn:mrn", Value: "123"}},
		})
	}))
	defer srv.Close()

	authn := &stubAuth{token: "tok"}
	c := NewClient(Config{
		BaseURL: srv.URL + "/fhir",
		Headers: "X-Site: east\n\n  X-Trace : on ",
	}, srv.Client(), authn, nil)

	p, err := c.ReadPatient(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "123", p.MRN("urn:mrn"))
	assert.Empty(t, p.MRN("urn:other"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer tok", headers.Get("Authorization"))
	assert.Equal(t, contentTypeFHIR, headers.Get("Accept"))
	assert.Equal(t, "east", headers.Get("X-Site"))
	assert.Equal(t, "on", headers.Get("X-Trace"))
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"resourceType":"OperationOutcome"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, srv.Client(), nil, nil)

	_, err := c.ReadDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	authn := &stubAuth{token: "stale"}
	c := NewClient(Config{BaseURL: srv.URL}, srv.Client(), authn, nil)

	_, err := c.ReadPatient(context.Background(), "p-1")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, int32(1), authn.invalidated.Load())
}

func TestClient_AuthorizeErrorStopsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	authErr := errors.New("no token")
	c := NewClient(Config{BaseURL: srv.URL}, srv.Client(), &stubAuth{err: authErr}, nil)

	_, err := c.ReadPatient(context.Background(), "p-1")
	assert.ErrorIs(t, err, authErr)
	assert.Zero(t, hits.Load())
}

func TestClient_SearchDocumentsFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "/DocumentReference", r.URL.Path)
			assert.Equal(t, "p-1", r.URL.Query().Get("patient"))
			assert.Equal(t, "clinical-notes,discharge", r.URL.Query().Get("class"))
			writeJSON(w, Bundle{
				ResourceType: "Bundle",
				Link:         []BundleLink{{Relation: "next", URL: srv.URL + "/DocumentReference?page=2"}},
				Entry: []BundleEntry{
					entry(t, DocumentReference{ResourceType: "DocumentReference", ID: "d-1"}),
					entry(t, map[string]string{"resourceType": "OperationOutcome"}),
				},
			})
		case "2":
			writeJSON(w, Bundle{
				ResourceType: "Bundle",
				Link:         []BundleLink{{Relation: "self", URL: srv.URL + "/DocumentReference?page=2"}},
				Entry:        []BundleEntry{entry(t, DocumentReference{ResourceType: "DocumentReference", ID: "d-2"})},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, DocumentClasses: "clinical-notes, discharge"}, srv.Client(), nil, nil)

	docs, err := c.SearchDocuments(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d-1", docs[0].ID)
	assert.Equal(t, "d-2", docs[1].ID)
}

func TestClient_SearchPatients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "urn:mrn|42", r.URL.Query().Get("identifier"))
		writeJSON(w, Bundle{ResourceType: "Bundle"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, srv.Client(), nil, nil)

	patients, err := c.SearchPatients(context.Background(), "urn:mrn", "42")
	require.NoError(t, err)
	assert.Empty(t, patients)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Patient{ResourceType: "Patient", ID: "p"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001}, srv.Client(), nil, nil)

	_, err := c.ReadPatient(context.Background(), "p")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ReadPatient(ctx, "p")
	assert.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders("A: 1\nmalformed\nB:two words\n: nameless\n")
	assert.Equal(t, "1", h.Get("A"))
	assert.Equal(t, "two words", h.Get("B"))
	assert.Equal(t, "", h.Get("Malformed"))
	assert.Len(t, h, 3)
}

func TestDocumentReference_Accessors(t *testing.T) {
	d := DocumentReference{Subject: &Reference{Reference: "Patient/p-9"}, Date: "2021-03-04"}
	assert.Equal(t, "p-9", d.SubjectID())
	assert.Equal(t, 2021, d.CreatedAt().Year())

	d = DocumentReference{Subject: &Reference{ID: "p-1"}, Created: "2020-01-02T03:04:05Z"}
	assert.Equal(t, "p-1", d.SubjectID())
	assert.Equal(t, 3, d.CreatedAt().Hour())

	assert.Empty(t, (&DocumentReference{}).SubjectID())
	assert.True(t, (&DocumentReference{Created: "not a date"}).CreatedAt().IsZero())
}

func TestPatient_Deceased(t *testing.T) {
	yes, no := true, false
	assert.True(t, (&Patient{DeceasedBoolean: &yes}).Deceased())
	assert.False(t, (&Patient{DeceasedBoolean: &no}).Deceased())
	assert.True(t, (&Patient{DeceasedDateTime: "2020-01-01"}).Deceased())
	assert.False(t, (&Patient{}).Deceased())
}

func TestCapabilities_CachesMetadata(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/metadata", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, map[string]string{"resourceType": "CapabilityStatement", "fhirVersion": "4.0.1"})
	}))
	defer srv.Close()

	caps := NewCapabilities(srv.URL, srv.Client())
	c := NewClient(Config{BaseURL: srv.URL}, srv.Client(), &stubAuth{token: "x"}, caps)

	_, err := c.Metadata(context.Background())
	require.NoError(t, err)
	v, err := caps.FHIRVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.0.1", v)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCapabilities_RejectsOtherResources(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, map[string]string{"resourceType": "Patient"})
	}))
	defer srv.Close()

	caps := NewCapabilities(srv.URL, srv.Client())
	_, err := caps.Metadata(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Patient"))

	// failures are retried on the next call
	_, _ = caps.Metadata(context.Background())
	assert.Equal(t, int32(2), hits.Load())
}
