package indexer

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"fhirindex/internal/fhir"
	"fhirindex/internal/job"
	"fhirindex/internal/queue"
	"fhirindex/internal/solr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndexer(src *fakeSource, sink *fakeSink) *Indexer {
	return New(src, fakeLookup{source: src}, sink, testMRNSystem, nil)
}

func TestIndex_MRN(t *testing.T) {
	src := newFakeSource()
	p := src.addPatient("p-1", "1001")
	p.Name = []fhir.HumanName{{Family: "Doe", Given: []string{"Jane", "Q"}}}
	p.Gender = "female"
	src.addDocument("d-1", "p-1", "Progress note")
	src.addDocument("d-2", "p-1", "")

	sink := &fakeSink{}
	res, err := newTestIndexer(src, sink).Index(context.Background(), job.IdentifierMRN, "1001")
	require.NoError(t, err)
	assert.Equal(t, job.Result{Succeeded: 1, Failed: 1}, res)

	docs := sink.collection(solr.CollectionDocuments)
	require.Len(t, docs, 1)
	assert.Equal(t, "d-1", docs[0]["ID"])
	assert.Equal(t, "d-1", docs[0]["RPT_ID"])
	assert.Equal(t, "Progress note", docs[0]["RPT_TEXT"])
	assert.Equal(t, "1001", docs[0]["MRN"])
	assert.Equal(t, "source1", docs[0]["SOURCE"])
	assert.Equal(t, "2020-05-01T10:00:00Z", docs[0]["RPT_DATE"])

	for _, collection := range []string{solr.CollectionPatient, solr.CollectionPatientSlave} {
		patients := sink.collection(collection)
		require.Len(t, patients, 1, collection)
		assert.Equal(t, "1001", patients[0]["ID"])
		assert.Equal(t, "Jane Q", patients[0]["FIRST_NAME"])
		assert.Equal(t, "Doe", patients[0]["LAST_NAME"])
		assert.Equal(t, "female", patients[0]["SEX_CD"])
		assert.Equal(t, 0, patients[0]["DECEASED_FLAG"])
	}
}

func TestIndex_PATID(t *testing.T) {
	src := newFakeSource()
	src.addPatient("p-1", "1001")
	src.addDocument("d-1", "p-1", "a")
	src.addDocument("d-2", "p-1", "b")
	src.addPatient("p-nomrn", "")

	ix := newTestIndexer(src, &fakeSink{})

	res, err := ix.Index(context.Background(), job.IdentifierPatientID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	_, err = ix.Index(context.Background(), job.IdentifierPatientID, "p-nomrn")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "patient has no MRN", resErr.Reason)
}

func TestIndex_PatientNotFound(t *testing.T) {
	ix := newTestIndexer(newFakeSource(), &fakeSink{})

	for _, typ := range []job.IdentifierType{job.IdentifierMRN, job.IdentifierPatientID, job.IdentifierDocumentID} {
		_, err := ix.Index(context.Background(), typ, "missing")
		var resErr *ResolutionError
		assert.True(t, errors.As(err, &resErr), "type %s", typ)
	}
}

func TestIndex_DOCID(t *testing.T) {
	src := newFakeSource()
	src.addPatient("p-1", "1001")
	src.addDocument("d-1", "p-1", "note")
	src.addPatient("p-2", "")
	src.addDocument("d-2", "p-2", "note")
	orphan := src.addDocument("d-3", "p-1", "note")
	orphan.Subject = nil

	sink := &fakeSink{}
	ix := newTestIndexer(src, sink)

	res, err := ix.Index(context.Background(), job.IdentifierDocumentID, "d-1")
	require.NoError(t, err)
	assert.Equal(t, job.Result{Succeeded: 1}, res)
	assert.Len(t, sink.collection(solr.CollectionDocuments), 1)
	assert.Empty(t, sink.collection(solr.CollectionPatient))

	_, err = ix.Index(context.Background(), job.IdentifierDocumentID, "d-2")
	assert.ErrorContains(t, err, "cannot determine MRN")

	_, err = ix.Index(context.Background(), job.IdentifierDocumentID, "d-3")
	assert.ErrorContains(t, err, "no subject")
}

func TestIndex_ServerErrorIsNotResolution(t *testing.T) {
	src := newFakeSource()
	src.ReadPatientErr = &fhir.APIError{StatusCode: http.StatusInternalServerError}

	_, err := newTestIndexer(src, &fakeSink{}).Index(context.Background(), job.IdentifierPatientID, "p-1")
	require.Error(t, err)
	var resErr *ResolutionError
	assert.False(t, errors.As(err, &resErr))
}

func TestIndex_SinkFailureCountsAsFailure(t *testing.T) {
	src := newFakeSource()
	src.addPatient("p-1", "1001")
	src.addDocument("d-1", "p-1", "note")

	sink := &fakeSink{AddErr: errors.New("solr down")}
	res, err := newTestIndexer(src, sink).Index(context.Background(), job.IdentifierMRN, "1001")
	require.NoError(t, err)
	assert.Equal(t, job.Result{Failed: 2}, res, "patient record and document both fail")
}

func TestIndex_PatientSinkFailureFailsIdentifier(t *testing.T) {
	src := newFakeSource()
	src.addPatient("p-1", "1001")
	src.addDocument("d-1", "p-1", "note")

	sink := &fakeSink{CollectionErr: map[string]error{solr.CollectionPatientSlave: errors.New("core unloaded")}}
	res, err := newTestIndexer(src, sink).Index(context.Background(), job.IdentifierPatientID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, job.Result{Succeeded: 1, Failed: 1}, res)
	assert.Len(t, sink.collection(solr.CollectionPatient), 1)
	assert.Len(t, sink.collection(solr.CollectionDocuments), 1)

	// a job counts the identifier as failed
	ms := newMemStore()
	queued(ms, "j1", job.IdentifierPatientID, "p-1")
	p := NewPipeline(newTestIndexer(src, sink), ms, PipelineConfig{}, nil)
	jobRes, err := p.Process(context.Background(), queue.NewRegistry(ms, nil).Handle("j1"))
	require.NoError(t, err)
	assert.Equal(t, job.Result{Failed: 1}, jobRes)
}

func TestFlush(t *testing.T) {
	sink := &fakeSink{}
	require.NoError(t, newTestIndexer(newFakeSource(), sink).Flush(context.Background()))
	assert.Equal(t, 1, sink.commits)
}

func TestPatientFields_Truncates(t *testing.T) {
	yes := true
	p := &fhir.Patient{
		Name:            []fhir.HumanName{{Family: strings.Repeat("L", 80), Given: []string{strings.Repeat("F", 70)}}},
		DeceasedBoolean: &yes,
		Address:         []fhir.Address{{PostalCode: "84112-1234-99"}},
		MaritalStatus:   &fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "M"}}},
		BirthDate:       "1950-02-03",
		Language:        "en",
	}

	fields := patientFields(p, "42")
	assert.Len(t, fields["FIRST_NAME"], 65)
	assert.Len(t, fields["LAST_NAME"], 75)
	assert.Equal(t, "84112-1234", fields["ZIP_CD"])
	assert.Equal(t, 1, fields["DECEASED_FLAG"])
	assert.Equal(t, "M", fields["MARITAL_STATUS_CD"])
	assert.Equal(t, "1950-02-03", fields["BIRTH_DATE"])
	assert.Equal(t, "en", fields["LANGUAGE_CD"])
	assert.Equal(t, "42", fields["EXTERNAL_ID"])
	assert.NotContains(t, fields, "SEX_CD")
}

func TestDocumentFields_OmitsMissingDate(t *testing.T) {
	fields := documentFields(&fhir.DocumentReference{ID: "d"}, "1", fhir.Content{Text: "x"})
	assert.NotContains(t, fields, "RPT_DATE")
}

func TestResolutionError(t *testing.T) {
	inner := errors.New("404")
	err := &ResolutionError{Type: job.IdentifierMRN, Identifier: "7", Reason: "patient not found", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "could not resolve MRN 7: patient not found: 404", err.Error())

	fatal := &FatalError{Value: "boom"}
	assert.Equal(t, "panic while indexing: boom", fatal.Error())
}
