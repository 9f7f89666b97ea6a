// Package indexer resolves job identifiers to FHIR documents and writes them
// to the search index, one identifier at a time.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fhirindex/internal/fhir"
	"fhirindex/internal/job"
	"fhirindex/internal/solr"
)

// DocumentSource reads patients and documents from the FHIR server.
type DocumentSource interface {
	ReadPatient(ctx context.Context, id string) (*fhir.Patient, error)
	ReadDocument(ctx context.Context, id string) (*fhir.DocumentReference, error)
	SearchDocuments(ctx context.Context, patientID string) ([]*fhir.DocumentReference, error)
	DocumentContent(ctx context.Context, doc *fhir.DocumentReference) (fhir.Content, error)
}

// Sink receives index documents. Added documents become searchable on Commit.
type Sink interface {
	Add(ctx context.Context, collection string, doc solr.Document) error
	Commit(ctx context.Context) error
}

// Indexer indexes the documents behind a single identifier.
type Indexer struct {
	source    DocumentSource
	lookup    fhir.PatientLookup
	sink      Sink
	mrnSystem string
	logger    *slog.Logger
}

// New creates an Indexer. Patients are matched to MRNs in mrnSystem.
func New(source DocumentSource, lookup fhir.PatientLookup, sink Sink, mrnSystem string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		source:    source,
		lookup:    lookup,
		sink:      sink,
		mrnSystem: mrnSystem,
		logger:    logger,
	}
}

// Index indexes every document the identifier refers to and returns the
// per-document tally. A *ResolutionError means the identifier matched nothing.
func (ix *Indexer) Index(ctx context.Context, t job.IdentifierType, identifier string) (job.Result, error) {
	switch t {
	case job.IdentifierDocumentID:
		return ix.indexDocumentID(ctx, identifier)
	case job.IdentifierMRN, job.IdentifierPatientID:
		p, err := ix.patient(ctx, t, identifier)
		if err != nil {
			return job.Result{}, err
		}
		return ix.indexPatient(ctx, t, identifier, p)
	}
	return job.Result{}, fmt.Errorf("unsupported identifier type %q", t)
}

// Flush makes everything added so far searchable.
func (ix *Indexer) Flush(ctx context.Context) error {
	if err := ix.sink.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

func (ix *Indexer) patient(ctx context.Context, t job.IdentifierType, identifier string) (*fhir.Patient, error) {
	var (
		p   *fhir.Patient
		err error
	)
	if t == job.IdentifierMRN {
		p, err = ix.lookup.LookupByMRN(ctx, identifier)
	} else {
		p, err = ix.source.ReadPatient(ctx, identifier)
	}
	if fhir.IsNotFound(err) {
		return nil, &ResolutionError{Type: t, Identifier: identifier, Reason: "patient not found", Err: err}
	}
	return p, err
}

func (ix *Indexer) indexPatient(ctx context.Context, t job.IdentifierType, identifier string, p *fhir.Patient) (job.Result, error) {
	var result job.Result

	mrn := p.MRN(ix.mrnSystem)
	if mrn == "" && t == job.IdentifierMRN {
		mrn = identifier
	}
	if mrn == "" {
		return result, &ResolutionError{Type: t, Identifier: identifier, Reason: "patient has no MRN"}
	}

	// the patient record counts as one outcome next to its documents
	fields := patientFields(p, mrn)
	patientOK := true
	for _, collection := range []string{solr.CollectionPatient, solr.CollectionPatientSlave} {
		if err := ix.sink.Add(ctx, collection, fields); err != nil {
			ix.logger.Error("Failed to index patient", "mrn", mrn, "collection", collection, "error", err)
			patientOK = false
		}
	}
	if !patientOK {
		result.Success(false)
	}

	docs, err := ix.source.SearchDocuments(ctx, p.ID)
	if err != nil {
		return result, fmt.Errorf("failed to search documents for patient %s: %w", p.ID, err)
	}

	for _, doc := range docs {
		ok, err := ix.indexDocument(ctx, doc, mrn)
		if err != nil {
			return result, err
		}
		result.Success(ok)
	}
	return result, nil
}

func (ix *Indexer) indexDocumentID(ctx context.Context, id string) (job.Result, error) {
	var result job.Result

	doc, err := ix.source.ReadDocument(ctx, id)
	if fhir.IsNotFound(err) {
		return result, &ResolutionError{Type: job.IdentifierDocumentID, Identifier: id, Reason: "document not found", Err: err}
	}
	if err != nil {
		return result, err
	}

	subject := doc.SubjectID()
	if subject == "" {
		return result, &ResolutionError{Type: job.IdentifierDocumentID, Identifier: id, Reason: "document has no subject"}
	}

	p, err := ix.source.ReadPatient(ctx, subject)
	if fhir.IsNotFound(err) {
		return result, &ResolutionError{Type: job.IdentifierDocumentID, Identifier: id, Reason: "subject not found", Err: err}
	}
	if err != nil {
		return result, err
	}

	mrn := p.MRN(ix.mrnSystem)
	if mrn == "" {
		return result, &ResolutionError{Type: job.IdentifierDocumentID, Identifier: id, Reason: "cannot determine MRN of subject"}
	}

	ok, err := ix.indexDocument(ctx, doc, mrn)
	if err != nil {
		return result, err
	}
	result.Success(ok)
	return result, nil
}

// indexDocument reports false for documents that cannot be indexed. The error
// is reserved for failures that should stop the job.
func (ix *Indexer) indexDocument(ctx context.Context, doc *fhir.DocumentReference, mrn string) (bool, error) {
	content, err := ix.source.DocumentContent(ctx, doc)
	if err != nil {
		if fhir.IsNotFound(err) || errors.Is(err, fhir.ErrInvalidContent) {
			ix.logger.Warn("Document content unavailable", "document_id", doc.ID, "error", err)
			return false, nil
		}
		return false, err
	}
	if content.Empty() {
		ix.logger.Warn("Document has no content", "document_id", doc.ID)
		return false, nil
	}

	if err := ix.sink.Add(ctx, solr.CollectionDocuments, documentFields(doc, mrn, content)); err != nil {
		ix.logger.Error("Failed to index document", "document_id", doc.ID, "error", err)
		return false, nil
	}
	return true, nil
}
