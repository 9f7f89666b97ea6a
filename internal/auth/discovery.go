package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"fhirindex/internal/lazy"
)

// OAuthURIsExtension is the SMART on FHIR extension advertising OAuth endpoints.
const OAuthURIsExtension = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

// Endpoints are the authorization server URLs.
type Endpoints struct {
	Authorize string
	Token     string
}

// EndpointResolver returns the authorization server endpoints.
type EndpointResolver interface {
	Endpoints(ctx context.Context) (Endpoints, error)
}

// MetadataSource returns the server's raw CapabilityStatement.
type MetadataSource interface {
	Metadata(ctx context.Context) ([]byte, error)
}

// Discovery finds the OAuth endpoints in the server's CapabilityStatement.
// The result is cached for the life of the process.
type Discovery struct {
	source  MetadataSource
	baseURL string
	cell    lazy.Cell[Endpoints]
}

// NewDiscovery creates a resolver that reads endpoints from source.
// Relative endpoint URIs are resolved against baseURL.
func NewDiscovery(source MetadataSource, baseURL string) *Discovery {
	return &Discovery{source: source, baseURL: baseURL}
}

// Endpoints returns the discovered endpoints.
func (d *Discovery) Endpoints(ctx context.Context) (Endpoints, error) {
	return d.cell.GetOrInit(ctx, func(ctx context.Context) (Endpoints, error) {
		raw, err := d.source.Metadata(ctx)
		if err != nil {
			return Endpoints{}, fmt.Errorf("failed to fetch capability statement: %w", err)
		}
		return ParseEndpoints(raw, d.baseURL)
	})
}

// StaticEndpoints is a resolver for explicitly configured endpoints.
type StaticEndpoints Endpoints

// Endpoints returns the configured endpoints.
func (s StaticEndpoints) Endpoints(context.Context) (Endpoints, error) {
	return Endpoints(s), nil
}

type capabilityStatement struct {
	Rest []struct {
		Security struct {
			Extension []extension `json:"extension"`
		} `json:"security"`
	} `json:"rest"`
}

type extension struct {
	URL       string      `json:"url"`
	ValueURI  string      `json:"valueUri"`
	Extension []extension `json:"extension"`
}

// ParseEndpoints extracts the SMART OAuth endpoints from a CapabilityStatement.
func ParseEndpoints(capability []byte, baseURL string) (Endpoints, error) {
	var cs capabilityStatement
	if err := json.Unmarshal(capability, &cs); err != nil {
		return Endpoints{}, fmt.Errorf("failed to decode capability statement: %w", err)
	}
	if len(cs.Rest) == 0 {
		return Endpoints{}, errors.New("capability statement has no rest entry")
	}

	var ep Endpoints
	for _, ext := range cs.Rest[0].Security.Extension {
		if ext.URL != OAuthURIsExtension {
			continue
		}
		for _, sub := range ext.Extension {
			switch sub.URL {
			case "authorize":
				ep.Authorize = resolveURI(baseURL, sub.ValueURI)
			case "token":
				ep.Token = resolveURI(baseURL, sub.ValueURI)
			}
		}
		break
	}

	if ep.Authorize == "" {
		return Endpoints{}, errors.New("could not discover authorization endpoint")
	}
	if ep.Token == "" {
		return Endpoints{}, errors.New("could not discover token endpoint")
	}
	return ep, nil
}

func resolveURI(baseURL, uri string) string {
	if strings.HasPrefix(uri, "http") {
		return uri
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return uri
	}
	ref, err := url.Parse(strings.TrimPrefix(uri, "/"))
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
