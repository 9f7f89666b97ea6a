package indexer

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"fhirindex/internal/fhir"
	"fhirindex/internal/job"
	"fhirindex/internal/solr"
	"fhirindex/internal/store"
)

const testMRNSystem = "urn:oid:mrn"

// fakeSource is an in-memory FHIR server.
type fakeSource struct {
	patients  map[string]*fhir.Patient
	documents map[string]*fhir.DocumentReference
	byPatient map[string][]string
	content   map[string]fhir.Content

	// ReadPatientErr, when set, is returned for every patient read
	ReadPatientErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		patients:  map[string]*fhir.Patient{},
		documents: map[string]*fhir.DocumentReference{},
		byPatient: map[string][]string{},
		content:   map[string]fhir.Content{},
	}
}

func (f *fakeSource) addPatient(id, mrn string) *fhir.Patient {
	p := &fhir.Patient{ResourceType: "Patient", ID: id}
	if mrn != "" {
		p.Identifier = []fhir.Identifier{{System: testMRNSystem, Value: mrn}}
	}
	f.patients[id] = p
	return p
}

func (f *fakeSource) addDocument(id, patientID, text string) *fhir.DocumentReference {
	d := &fhir.DocumentReference{
		ResourceType: "DocumentReference",
		ID:           id,
		Subject:      &fhir.Reference{Reference: "Patient/" + patientID},
		Created:      "2020-05-01T10:00:00Z",
	}
	f.documents[id] = d
	f.byPatient[patientID] = append(f.byPatient[patientID], id)
	f.content[id] = fhir.Content{Text: text, ContentType: "text/plain"}
	return d
}

func notFound(path string) error {
	return &fhir.APIError{Method: http.MethodGet, URL: path, StatusCode: http.StatusNotFound}
}

func (f *fakeSource) ReadPatient(_ context.Context, id string) (*fhir.Patient, error) {
	if f.ReadPatientErr != nil {
		return nil, f.ReadPatientErr
	}
	p, ok := f.patients[id]
	if !ok {
		return nil, notFound("Patient/" + id)
	}
	return p, nil
}

func (f *fakeSource) ReadDocument(_ context.Context, id string) (*fhir.DocumentReference, error) {
	d, ok := f.documents[id]
	if !ok {
		return nil, notFound("DocumentReference/" + id)
	}
	return d, nil
}

func (f *fakeSource) SearchDocuments(_ context.Context, patientID string) ([]*fhir.DocumentReference, error) {
	var out []*fhir.DocumentReference
	for _, id := range f.byPatient[patientID] {
		out = append(out, f.documents[id])
	}
	return out, nil
}

func (f *fakeSource) DocumentContent(_ context.Context, doc *fhir.DocumentReference) (fhir.Content, error) {
	return f.content[doc.ID], nil
}

// fakeLookup resolves MRNs against a fakeSource.
type fakeLookup struct {
	source *fakeSource
}

func (l fakeLookup) LookupByMRN(_ context.Context, mrn string) (*fhir.Patient, error) {
	for _, p := range l.source.patients {
		if p.MRN(testMRNSystem) == mrn {
			return p, nil
		}
	}
	return nil, fhir.ErrPatientNotFound
}

type added struct {
	collection string
	doc        solr.Document
}

// fakeSink records index writes.
type fakeSink struct {
	mu      sync.Mutex
	adds    []added
	commits int

	AddErr error
	// CollectionErr fails writes to a single collection
	CollectionErr map[string]error
}

func (s *fakeSink) Add(_ context.Context, collection string, doc solr.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	if err := s.CollectionErr[collection]; err != nil {
		return err
	}
	s.adds = append(s.adds, added{collection: collection, doc: doc})
	return nil
}

func (s *fakeSink) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *fakeSink) collection(name string) []solr.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []solr.Document
	for _, a := range s.adds {
		if a.collection == name {
			out = append(out, a.doc)
		}
	}
	return out
}

// MockIndexer implements IdentifierIndexer for testing.
type MockIndexer struct {
	IndexFunc func(ctx context.Context, t job.IdentifierType, identifier string) (job.Result, error)
	FlushFunc func(ctx context.Context) error

	flushes atomic.Int32
}

func (m *MockIndexer) Index(ctx context.Context, t job.IdentifierType, identifier string) (job.Result, error) {
	if m.IndexFunc != nil {
		return m.IndexFunc(ctx, t, identifier)
	}
	return job.Result{Succeeded: 1}, nil
}

func (m *MockIndexer) Flush(ctx context.Context) error {
	m.flushes.Add(1)
	if m.FlushFunc != nil {
		return m.FlushFunc(ctx)
	}
	return nil
}

// memStore is an in-memory job store with the same save semantics as the
// Postgres store.
type memStore struct {
	mu    sync.Mutex
	rows  map[string]job.State
	saves int

	SaveErr error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]job.State{}}
}

func (m *memStore) Save(_ context.Context, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}

	state, version, dirty := rec.Snapshot()
	if !dirty {
		return nil
	}
	if state.Status == job.StatusDeleted {
		delete(m.rows, state.ID)
	} else {
		m.rows[state.ID] = state
	}
	rec.MarkPersisted(version)
	return nil
}

func (m *memStore) Fetch(_ context.Context, id string) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, store.Wrap("fetch", id, store.ErrNotFound)
	}
	return job.Restore(s), nil
}

func (m *memStore) ListSummaries(context.Context) ([]job.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Summary
	for _, s := range m.rows {
		out = append(out, job.Summary{
			ID:             s.ID,
			Status:         s.Status,
			SubmittedAt:    s.SubmittedAt,
			CompletedAt:    s.CompletedAt,
			IdentifierType: s.IdentifierType,
			Total:          s.Total,
			Processed:      s.Processed,
			ErrorText:      s.ErrorText,
			ElapsedMillis:  s.ElapsedMillis,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) row(id string) (job.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	return s, ok
}

func (m *memStore) put(s job.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Total = len(s.Identifiers)
	m.rows[s.ID] = s
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// MockInvalidator counts queue invalidations.
type MockInvalidator struct {
	calls atomic.Int32
}

func (m *MockInvalidator) InvalidateNow() {
	m.calls.Add(1)
}
