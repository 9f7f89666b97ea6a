package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fhirindex/internal/auth"
	"fhirindex/internal/config"
	"fhirindex/internal/fhir"
	"fhirindex/internal/indexer"
	"fhirindex/internal/solr"
)

const versionTimeout = 5 * time.Second

// components are the outbound pieces of the service.
type components struct {
	indexer *indexer.Indexer
	fhir    *fhir.Capabilities
	solr    *solr.Client
}

// newComponents wires the FHIR source, patient lookup and Solr sink described by cfg.
func newComponents(cfg *config.Config, httpClient *http.Client, log *slog.Logger) (*components, error) {
	scheme, err := auth.ParseScheme(cfg.Auth.Scheme)
	if err != nil {
		return nil, err
	}

	caps := fhir.NewCapabilities(cfg.FHIR.BaseURL, httpClient)

	// token endpoint comes from the server's metadata unless pinned
	var resolver auth.EndpointResolver = auth.NewDiscovery(caps, cfg.FHIR.BaseURL)
	if cfg.Auth.TokenURL != "" {
		resolver = auth.StaticEndpoints{Token: cfg.Auth.TokenURL}
	}

	authn, err := auth.New(auth.Config{
		Scheme:         scheme,
		ClientID:       cfg.Auth.ClientID,
		ClientSecret:   cfg.Auth.ClientSecret,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		Scope:          cfg.Auth.Scope,
		PrivateKeyFile: cfg.Auth.PrivateKeyFile,
		Code:           cfg.Auth.Code,
		RedirectURI:    cfg.Auth.RedirectURI,
	}, resolver, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to configure FHIR authentication: %w", err)
	}

	client := fhir.NewClient(fhir.Config{
		BaseURL:           cfg.FHIR.BaseURL,
		DocumentClasses:   cfg.FHIR.DocumentClasses,
		RequestsPerSecond: cfg.FHIR.RequestsPerSecond,
		Timeout:           cfg.HTTP.RequestTimeout,
		Headers:           cfg.FHIR.Headers,
	}, httpClient, authn, caps)

	lookupScheme, err := fhir.ParseLookupScheme(cfg.FHIR.PatientLookup)
	if err != nil {
		return nil, err
	}
	lookup, err := fhir.NewLookup(fhir.LookupConfig{
		Scheme:       lookupScheme,
		MRNSystem:    cfg.FHIR.MRNSystem,
		EpicURL:      cfg.FHIR.EpicURL,
		EpicClientID: cfg.FHIR.EpicClientID,
		EpicUsername: cfg.FHIR.EpicUsername,
		EpicPassword: cfg.FHIR.EpicPassword,
	}, client, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to configure patient lookup: %w", err)
	}

	sink := solr.NewClient(solr.Config{
		URL:      cfg.Solr.URL,
		Username: cfg.Solr.Username,
		Password: cfg.Solr.Password,
		Timeout:  cfg.HTTP.RequestTimeout,
	}, httpClient)

	log.Info("FHIR source configured",
		"base_url", cfg.FHIR.BaseURL,
		"auth_scheme", string(scheme),
		"patient_lookup", string(lookupScheme),
		"solr_url", cfg.Solr.URL,
	)

	return &components{
		indexer: indexer.New(client, lookup, sink, cfg.FHIR.MRNSystem, log),
		fhir:    caps,
		solr:    sink,
	}, nil
}

// logVersions logs the versions of both servers. Failures only warn since either
// may come up after the service.
func (c *components) logVersions(ctx context.Context, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	if v, err := c.fhir.FHIRVersion(ctx); err != nil {
		log.Warn("Could not read FHIR capability statement", "error", err)
	} else {
		log.Info("Connected to FHIR server", "fhir_version", v)
	}

	if v, err := c.solr.Version(ctx); err != nil {
		log.Warn("Could not read Solr version", "error", err)
	} else {
		log.Info("Connected to Solr", "version", v)
	}
}
