package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fhirindex/internal/job"
	"fhirindex/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStore implements RecordStore for testing.
type MockStore struct {
	FetchFunc func(ctx context.Context, id string) (*job.Record, error)
	SaveFunc  func(ctx context.Context, rec *job.Record) error

	fetches atomic.Int32
	saves   atomic.Int32
}

func (m *MockStore) Fetch(ctx context.Context, id string) (*job.Record, error) {
	m.fetches.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, id)
	}
	return job.Restore(job.State{ID: id, Status: job.StatusQueued, Identifiers: []string{"x"}}), nil
}

func (m *MockStore) Save(ctx context.Context, rec *job.Record) error {
	m.saves.Add(1)
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, rec)
	}
	return nil
}

func TestRegistry_HandleIsShared(t *testing.T) {
	reg := NewRegistry(&MockStore{}, nil)
	assert.Same(t, reg.Handle("a"), reg.Handle("a"))
	assert.NotSame(t, reg.Handle("a"), reg.Handle("b"))
	assert.Equal(t, 2, reg.Len())
}

func TestHandle_RecordHydratesOnce(t *testing.T) {
	ms := &MockStore{
		FetchFunc: func(ctx context.Context, id string) (*job.Record, error) {
			time.Sleep(10 * time.Millisecond)
			return job.Restore(job.State{ID: id, Status: job.StatusQueued, Identifiers: []string{"x"}}), nil
		},
	}
	reg := NewRegistry(ms, nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		recs []*job.Record
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := reg.Handle("j1").Record(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			recs = append(recs, rec)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ms.fetches.Load())
	require.Len(t, recs, 10)
	for _, r := range recs {
		assert.Same(t, recs[0], r)
	}
}

func TestHandle_CloseSavesAndUnregisters(t *testing.T) {
	ms := &MockStore{}
	reg := NewRegistry(ms, nil)

	h := reg.Handle("j1")
	rec, err := h.Record(context.Background())
	require.NoError(t, err)

	rec.Close(context.Background())

	assert.Equal(t, int32(1), ms.saves.Load())
	assert.Equal(t, 0, reg.Len())
	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after teardown")
	}

	fresh := reg.Handle("j1")
	assert.NotSame(t, h, fresh, "a closed record is reloaded on next use")
}

func TestHandle_CloseUnregistersEvenWhenSaveFails(t *testing.T) {
	ms := &MockStore{SaveFunc: func(context.Context, *job.Record) error { return errors.New("db down") }}
	reg := NewRegistry(ms, nil)

	rec, err := reg.Handle("j1").Record(context.Background())
	require.NoError(t, err)

	rec.Close(context.Background())
	assert.Equal(t, 0, reg.Len())
}

func TestHandle_FetchFailureDropsEntry(t *testing.T) {
	ms := &MockStore{
		FetchFunc: func(ctx context.Context, id string) (*job.Record, error) {
			return nil, store.Wrap("fetch", id, store.ErrNotFound)
		},
	}
	reg := NewRegistry(ms, nil)

	_, err := reg.Handle("missing").Record(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, reg.Len())
}

func TestRegister_NewRecord(t *testing.T) {
	ms := &MockStore{}
	reg := NewRegistry(ms, nil)

	rec := job.New(job.IdentifierMRN, []string{"1"})
	h := reg.Register(rec)

	got, err := h.Record(context.Background())
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Equal(t, int32(0), ms.fetches.Load(), "registered records are never fetched")

	loaded, ok := reg.Handle(rec.ID()).Loaded()
	assert.True(t, ok)
	assert.Same(t, rec, loaded)

	rec.Close(context.Background())
	assert.Equal(t, int32(1), ms.saves.Load())
}

func TestHandle_ClaimIsExclusive(t *testing.T) {
	h := NewRegistry(&MockStore{}, nil).Handle("j1")

	require.True(t, h.Claim())
	assert.True(t, h.Claimed())
	assert.False(t, h.Claim())

	h.Release()
	assert.False(t, h.Claimed())
	assert.True(t, h.Claim())
}
