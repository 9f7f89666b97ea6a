package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fhirindex/internal/config"
	"fhirindex/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServers(t *testing.T) (fhirURL, solrURL string) {
	t.Helper()

	fhirSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fhir/metadata" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		_, _ = w.Write([]byte(`{"resourceType":"CapabilityStatement","fhirVersion":"4.0.1"}`))
	}))
	t.Cleanup(fhirSrv.Close)

	solrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/solr/admin/info/system" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lucene":{"solr-impl-version":"9.4.0"}}`))
	}))
	t.Cleanup(solrSrv.Close)

	return fhirSrv.URL + "/fhir", solrSrv.URL
}

func testConfig(fhirURL, solrURL string) *config.Config {
	cfg := &config.Config{}
	cfg.FHIR.BaseURL = fhirURL
	cfg.FHIR.PatientLookup = "default"
	cfg.Auth.Scheme = "none"
	cfg.Solr.URL = solrURL
	return cfg
}

func TestNewComponents_LogsBothServerVersions(t *testing.T) {
	fhirURL, solrURL := fakeServers(t)

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info")

	comps, err := newComponents(testConfig(fhirURL, solrURL), http.DefaultClient, log)
	require.NoError(t, err)
	require.NotNil(t, comps.indexer)

	comps.logVersions(context.Background(), log)

	out := buf.String()
	assert.Contains(t, out, `"fhir_version":"4.0.1"`)
	assert.Contains(t, out, `"version":"Solr Release 9.4.0"`)
	assert.NotContains(t, out, `"level":"WARN"`)
}

func TestNewComponents_VersionFailuresOnlyWarn(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(down.Close)

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info")

	comps, err := newComponents(testConfig(down.URL, down.URL), http.DefaultClient, log)
	require.NoError(t, err)

	comps.logVersions(context.Background(), log)

	out := buf.String()
	assert.Contains(t, out, "Could not read FHIR capability statement")
	assert.Contains(t, out, "Could not read Solr version")
}

func TestNewComponents_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown auth scheme",
			mutate:  func(c *config.Config) { c.Auth.Scheme = "kerberos" },
			wantErr: "kerberos",
		},
		{
			name:    "basic without username",
			mutate:  func(c *config.Config) { c.Auth.Scheme = "basic" },
			wantErr: "requires a username",
		},
		{
			name:    "unknown patient lookup",
			mutate:  func(c *config.Config) { c.FHIR.PatientLookup = "mpi" },
			wantErr: "mpi",
		},
		{
			name:    "epic lookup without url",
			mutate:  func(c *config.Config) { c.FHIR.PatientLookup = "epic" },
			wantErr: "epic url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://fhir.example/r4", "http://solr.example:8983")
			tt.mutate(cfg)

			_, err := newComponents(cfg, http.DefaultClient, logger.NewWithWriter(&bytes.Buffer{}, "error"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
