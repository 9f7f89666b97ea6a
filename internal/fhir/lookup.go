package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LookupScheme selects how patients are found by MRN.
type LookupScheme string

const (
	// LookupDefault searches Patient by identifier system and value.
	LookupDefault LookupScheme = "default"
	// LookupEpic resolves the MRN through Epic's GetPatientIdentifiers service.
	LookupEpic LookupScheme = "epic"
)

// ParseLookupScheme converts a case-insensitive name to a LookupScheme. Empty means default.
func ParseLookupScheme(name string) (LookupScheme, error) {
	switch s := LookupScheme(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return LookupDefault, nil
	case LookupDefault, LookupEpic:
		return s, nil
	}
	return "", fmt.Errorf("unknown patient lookup %q", name)
}

// PatientLookup finds a patient by medical record number.
type PatientLookup interface {
	LookupByMRN(ctx context.Context, mrn string) (*Patient, error)
}

// LookupConfig holds patient lookup settings.
type LookupConfig struct {
	Scheme    LookupScheme
	MRNSystem string

	// Epic web service settings
	EpicURL      string
	EpicClientID string
	EpicUsername string
	EpicPassword string
}

// NewLookup builds the lookup selected by cfg.Scheme.
func NewLookup(cfg LookupConfig, client *Client, httpClient *http.Client) (PatientLookup, error) {
	switch cfg.Scheme {
	case LookupDefault, "":
		return &DefaultLookup{client: client, mrnSystem: cfg.MRNSystem}, nil
	case LookupEpic:
		if cfg.EpicURL == "" {
			return nil, errors.New("epic patient lookup requires an epic url")
		}
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		return &EpicLookup{
			client:    client,
			http:      httpClient,
			apiRoot:   normalizeBase(cfg.EpicURL),
			clientID:  cfg.EpicClientID,
			username:  cfg.EpicUsername,
			password:  cfg.EpicPassword,
			mrnSystem: cfg.MRNSystem,
		}, nil
	}
	return nil, fmt.Errorf("unknown patient lookup %q", cfg.Scheme)
}

// DefaultLookup searches Patient?identifier=system|mrn.
type DefaultLookup struct {
	client    *Client
	mrnSystem string
}

// LookupByMRN returns the first matching patient.
func (l *DefaultLookup) LookupByMRN(ctx context.Context, mrn string) (*Patient, error) {
	patients, err := l.client.SearchPatients(ctx, l.mrnSystem, mrn)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("mrn %s: %w", mrn, ErrPatientNotFound)
	}
	return patients[0], nil
}

const (
	epicGetIdentifiers = "epic/2015/Common/Patient/GetPatientIdentifiers/Patient/Identifiers"
	epicFHIRIDType     = "FHIR STU3"
)

// EpicLookup maps an MRN to a FHIR id with Epic's identifier service and
// then reads the patient over FHIR.
type EpicLookup struct {
	client    *Client
	http      *http.Client
	apiRoot   string
	clientID  string
	username  string
	password  string
	mrnSystem string
}

type epicIdentifiersRequest struct {
	PatientID     string `json:"PatientID"`
	PatientIDType string `json:"PatientIDType"`
	UserID        string `json:"UserID"`
	UserIDType    string `json:"UserIDType"`
}

type epicIdentifiersResponse struct {
	Identifiers []struct {
		ID     string `json:"ID"`
		IDType string `json:"IDType"`
	} `json:"Identifiers"`
}

// LookupByMRN returns the patient the MRN belongs to.
func (l *EpicLookup) LookupByMRN(ctx context.Context, mrn string) (*Patient, error) {
	fhirID, err := l.fhirID(ctx, mrn)
	if err != nil {
		return nil, err
	}

	p, err := l.client.ReadPatient(ctx, fhirID)
	if err != nil {
		return nil, err
	}
	if p.MRN(l.mrnSystem) == "" {
		p.Identifier = append(p.Identifier, Identifier{System: l.mrnSystem, Value: mrn})
	}
	return p, nil
}

func (l *EpicLookup) fhirID(ctx context.Context, mrn string) (string, error) {
	// service accounts are named emp$<user>
	userID := l.username
	if _, after, ok := strings.Cut(userID, "emp$"); ok {
		userID = after
	}

	payload, err := json.Marshal(epicIdentifiersRequest{
		PatientID:     mrn,
		PatientIDType: "EPICMRN",
		UserID:        userID,
		UserIDType:    "EXTERNAL",
	})
	if err != nil {
		return "", err
	}

	target := l.apiRoot + epicGetIdentifiers
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build identifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if l.clientID != "" {
		req.Header.Set("Epic-Client-ID", l.clientID)
	}
	req.SetBasicAuth(l.username, l.password)

	resp, err := l.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("identifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read identifier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Method: http.MethodPost, URL: target, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var out epicIdentifiersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode identifier response: %w", err)
	}
	for _, id := range out.Identifiers {
		if strings.EqualFold(id.IDType, epicFHIRIDType) && id.ID != "" {
			return id.ID, nil
		}
	}
	return "", fmt.Errorf("mrn %s: %w", mrn, ErrPatientNotFound)
}
