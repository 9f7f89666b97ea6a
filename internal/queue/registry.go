package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"fhirindex/internal/job"
	"fhirindex/internal/lazy"
)

// RecordStore loads and persists job records.
type RecordStore interface {
	Fetch(ctx context.Context, id string) (*job.Record, error)
	Save(ctx context.Context, rec *job.Record) error
}

// Registry tracks every job record currently in use so that workers and
// action requests touching the same id share one instance.
type Registry struct {
	store  RecordStore
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store RecordStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Handle returns the in-flight handle for id, creating it if needed.
func (r *Registry) Handle(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[id]; ok {
		return h
	}
	h := &Handle{id: id, registry: r, done: make(chan struct{})}
	r.handles[id] = h
	return h
}

// Lookup returns the handle for id only if one is already tracked.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Register adds a freshly created record. Closing the record persists it and
// drops it from the registry.
func (r *Registry) Register(rec *job.Record) *Handle {
	h := r.Handle(rec.ID())
	_, _ = h.cell.GetOrInit(context.Background(), func(context.Context) (*job.Record, error) {
		h.attach(rec)
		return rec, nil
	})
	return h
}

// Len returns the number of tracked ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.handles[h.id]; ok && cur == h {
		delete(r.handles, h.id)
	}
	r.mu.Unlock()
}

// Handle is the shared entry for one job id. The record behind it is loaded
// at most once, on first use.
type Handle struct {
	id       string
	registry *Registry
	cell     lazy.Cell[*job.Record]
	claimed  atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.id
}

// Record returns the job record, loading it from the store on first use.
// Concurrent callers share a single load and the same instance.
func (h *Handle) Record(ctx context.Context) (*job.Record, error) {
	rec, err := h.cell.GetOrInit(ctx, func(ctx context.Context) (*job.Record, error) {
		rec, err := h.registry.store.Fetch(ctx, h.id)
		if err != nil {
			return nil, err
		}
		h.attach(rec)
		return rec, nil
	})
	if err != nil {
		h.registry.remove(h)
		return nil, fmt.Errorf("failed to load job %s: %w", h.id, err)
	}
	return rec, nil
}

// Loaded returns the record if it has already been loaded.
func (h *Handle) Loaded() (*job.Record, bool) {
	return h.cell.Get()
}

// Claim gives the caller exclusive processing rights. It reports false when
// someone else holds them.
func (h *Handle) Claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

// Release gives up processing rights.
func (h *Handle) Release() {
	h.claimed.Store(false)
}

// Claimed reports whether a processor currently holds the handle.
func (h *Handle) Claimed() bool {
	return h.claimed.Load()
}

// Done is closed once the record has been persisted and dropped from the registry.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// attach installs the teardown that persists the final state and unregisters the handle.
func (h *Handle) attach(rec *job.Record) {
	rec.OnClose(func(ctx context.Context, rec *job.Record) error {
		defer h.doneOnce.Do(func() { close(h.done) })
		defer h.registry.remove(h)

		if err := h.registry.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("failed to persist job on close: %w", err)
		}
		h.registry.logger.Debug("Job record released", "job_id", rec.ID(), "status", rec.Status().String())
		return nil
	})
}
