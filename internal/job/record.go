package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxErrorText is the longest error text kept on a record (ERROR_TEXT column width).
const MaxErrorText = 200

// ErrClosed is returned when an action targets a record that has already been closed.
var ErrClosed = errors.New("job record is closed")

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// CloseFunc is a teardown action run once when a record is closed.
type CloseFunc func(ctx context.Context, r *Record) error

// State is the persisted form of a record.
type State struct {
	ID             string
	Status         Status
	SubmittedAt    time.Time
	CompletedAt    *time.Time
	IdentifierType IdentifierType
	Identifiers    []string
	Total          int
	Processed      int
	ErrorText      string
	ElapsedMillis  int64
}

// Summary is a lightweight projection of a record used for status reporting.
type Summary struct {
	ID             string
	Status         Status
	SubmittedAt    time.Time
	CompletedAt    *time.Time
	IdentifierType IdentifierType
	Total          int
	Processed      int
	ErrorText      string
	ElapsedMillis  int64
}

// Record is a single bulk-indexing request and its progress.
// All methods are safe for concurrent use.
type Record struct {
	mu sync.Mutex

	id             string
	status         Status
	submittedAt    time.Time
	completedAt    *time.Time
	identifierType IdentifierType
	identifiers    []string
	processed      int
	errorText      string
	elapsedMillis  int64

	dirty   bool
	version uint64
	isNew   bool
	closed  bool

	// start of the current run segment; zero when not running
	segmentStart time.Time
	callbacks    []CloseFunc
}

// New creates a queued record that has not been persisted yet.
func New(identifierType IdentifierType, identifiers []string) *Record {
	ids := make([]string, len(identifiers))
	copy(ids, identifiers)

	return &Record{
		id:             uuid.NewString(),
		status:         StatusQueued,
		submittedAt:    now(),
		identifierType: identifierType,
		identifiers:    ids,
		dirty:          true,
		isNew:          true,
	}
}

// Restore rebuilds a record from its persisted state.
func Restore(s State) *Record {
	ids := make([]string, len(s.Identifiers))
	copy(ids, s.Identifiers)

	processed := s.Processed
	if processed < 0 {
		processed = 0
	}
	if processed > len(ids) {
		processed = len(ids)
	}

	return &Record{
		id:             s.ID,
		status:         s.Status,
		submittedAt:    s.SubmittedAt,
		completedAt:    copyTime(s.CompletedAt),
		identifierType: s.IdentifierType,
		identifiers:    ids,
		processed:      processed,
		errorText:      s.ErrorText,
		elapsedMillis:  s.ElapsedMillis,
	}
}

// ID returns the record's unique id.
func (r *Record) ID() string {
	return r.id
}

// IdentifierType returns how identifiers are interpreted.
func (r *Record) IdentifierType() IdentifierType {
	return r.identifierType
}

// Status returns the current status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// HasStatus reports whether the current status is one of statuses.
func (r *Record) HasStatus(statuses ...Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasStatus(statuses...)
}

// Processed returns the number of identifiers processed so far.
func (r *Record) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// Total returns the number of identifiers in the request.
func (r *Record) Total() int {
	return len(r.identifiers)
}

// ErrorText returns the last recorded error.
func (r *Record) ErrorText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorText
}

// Identifiers returns the identifier list, or only its unprocessed suffix.
func (r *Record) Identifiers(unprocessed bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.identifiers
	if unprocessed {
		src = r.identifiers[r.processed:]
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Dirty reports whether any field changed since the record was last persisted.
func (r *Record) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// IsNew reports whether the record has never been persisted.
func (r *Record) IsNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isNew
}

// Closed reports whether Close has run.
func (r *Record) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Snapshot returns the persisted fields together with the change version they
// reflect and whether they differ from what was last persisted.
func (r *Record) Snapshot() (State, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state(), r.version, r.dirty
}

// MarkPersisted records a successful write of the snapshot taken at version.
// Changes made after that snapshot keep the record dirty.
func (r *Record) MarkPersisted(version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isNew = false
	if r.version == version {
		r.dirty = false
	}
}

// State returns a copy of the persisted fields.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

func (r *Record) state() State {
	ids := make([]string, len(r.identifiers))
	copy(ids, r.identifiers)

	return State{
		ID:             r.id,
		Status:         r.status,
		SubmittedAt:    r.submittedAt,
		CompletedAt:    copyTime(r.completedAt),
		IdentifierType: r.identifierType,
		Identifiers:    ids,
		Total:          len(r.identifiers),
		Processed:      r.processed,
		ErrorText:      r.errorText,
		ElapsedMillis:  r.currentElapsed(),
	}
}

// Summary returns the status projection of the record.
func (r *Record) Summary() Summary {
	s := r.State()
	return Summary{
		ID:             s.ID,
		Status:         s.Status,
		SubmittedAt:    s.SubmittedAt,
		CompletedAt:    s.CompletedAt,
		IdentifierType: s.IdentifierType,
		Total:          s.Total,
		Processed:      s.Processed,
		ErrorText:      s.ErrorText,
		ElapsedMillis:  s.ElapsedMillis,
	}
}

// OnClose registers a teardown callback. Callbacks run in registration order.
func (r *Record) OnClose(fn CloseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start moves a non-terminal record to RUNNING and opens a new run segment.
func (r *Record) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.status.Terminal() {
		return false
	}

	r.segmentStart = time.Now()
	r.setErrorText("")
	r.setCompletedAt(nil)
	r.setStatus(StatusRunning)
	return true
}

// Complete marks a running record whose identifiers are all processed as COMPLETED.
func (r *Record) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.hasStatus(StatusRunning) || r.processed != len(r.identifiers) {
		return false
	}
	return r.stop(StatusCompleted)
}

// Suspend pauses a running or queued record.
func (r *Record) Suspend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.hasStatus(StatusRunning, StatusQueued) {
		return false
	}
	return r.stop(StatusSuspended)
}

// Resume requeues a record without losing its progress.
func (r *Record) Resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.hasStatus(StatusRunning, StatusCompleted, StatusDeleted) {
		return false
	}
	r.requeue(false)
	return true
}

// Restart requeues a record and discards its progress. A run still in flight
// on a suspended record is cut off: its pending Advance and run time no longer
// count.
func (r *Record) Restart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.hasStatus(StatusRunning, StatusDeleted) {
		return false
	}
	r.requeue(true)
	return true
}

// Abort stops a record that has not completed.
func (r *Record) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.hasStatus(StatusCompleted, StatusDeleted) {
		return false
	}
	return r.stop(StatusAborted)
}

// Delete marks the record for removal from the store.
func (r *Record) Delete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	return r.stop(StatusDeleted)
}

// Yield hands a running record back to the queue, keeping its progress and
// its place in line. Used when a worker shuts down mid-job.
func (r *Record) Yield() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.hasStatus(StatusRunning) {
		return false
	}
	r.setStatus(StatusQueued)
	return true
}

// Error records msg as the error text. A non-empty message forces ERROR.
func (r *Record) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.setErrorText(msg)
	if r.errorText != "" {
		r.setStatus(StatusError)
	}
}

// Advance counts one more identifier as processed. It only counts within the
// run opened by Start.
func (r *Record) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.segmentStart.IsZero() {
		return
	}
	if r.processed < len(r.identifiers) {
		r.processed++
		r.touch()
	}
}

// Apply performs an action. It returns whether the record changed state.
func (r *Record) Apply(action Action) (bool, error) {
	if r.Closed() {
		return false, ErrClosed
	}

	switch action {
	case ActionAbort:
		return r.Abort(), nil
	case ActionResume:
		return r.Resume(), nil
	case ActionSuspend:
		return r.Suspend(), nil
	case ActionDelete:
		return r.Delete(), nil
	case ActionRestart:
		return r.Restart(), nil
	}
	return false, fmt.Errorf("unsupported action %q", action)
}

// Close ends active processing of the record. It is idempotent.
// A record still RUNNING is demoted to SUSPENDED, the current run segment is
// added to the elapsed time, and each close callback runs once. Callback
// failures are logged and do not stop the remaining callbacks.
func (r *Record) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	if r.status == StatusRunning {
		r.setStatus(StatusSuspended)
	}

	if !r.segmentStart.IsZero() {
		if d := time.Since(r.segmentStart).Milliseconds(); d > 0 {
			r.elapsedMillis += d
			r.touch()
		}
		r.segmentStart = time.Time{}
	}

	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.runCallback(ctx, cb)
	}
}

func (r *Record) runCallback(ctx context.Context, cb CloseFunc) {
	defer func() {
		if p := recover(); p != nil {
			slog.Default().Error("Close callback panicked", "job_id", r.id, "panic", p)
		}
	}()

	if err := cb(ctx, r); err != nil {
		slog.Default().Error("Close callback failed", "job_id", r.id, "error", err)
	}
}

// stop sets a stopping status. Suspension is not completion, so it clears CompletedAt.
func (r *Record) stop(status Status) bool {
	if status == StatusSuspended {
		r.setCompletedAt(nil)
	} else {
		t := now()
		r.setCompletedAt(&t)
	}
	r.setStatus(status)
	return true
}

func (r *Record) requeue(resetProgress bool) {
	r.setErrorText("")
	r.setStatus(StatusQueued)
	r.setCompletedAt(nil)
	r.setSubmittedAt(now())

	if resetProgress {
		r.segmentStart = time.Time{}
		if r.processed != 0 {
			r.processed = 0
			r.touch()
		}
		if r.elapsedMillis != 0 {
			r.elapsedMillis = 0
			r.touch()
		}
	}
}

func (r *Record) touch() {
	r.dirty = true
	r.version++
}

func (r *Record) hasStatus(statuses ...Status) bool {
	for _, s := range statuses {
		if r.status == s {
			return true
		}
	}
	return false
}

// currentElapsed includes the open run segment without folding it in.
func (r *Record) currentElapsed() int64 {
	if r.segmentStart.IsZero() {
		return r.elapsedMillis
	}
	return r.elapsedMillis + time.Since(r.segmentStart).Milliseconds()
}

func (r *Record) setStatus(s Status) {
	if r.status != s {
		r.status = s
		r.touch()
	}
}

func (r *Record) setErrorText(msg string) {
	msg = truncate(strings.TrimSpace(msg), MaxErrorText)
	if r.errorText != msg {
		r.errorText = msg
		r.touch()
	}
}

func (r *Record) setCompletedAt(t *time.Time) {
	switch {
	case r.completedAt == nil && t == nil:
		return
	case r.completedAt != nil && t != nil && r.completedAt.Equal(*t):
		return
	}
	r.completedAt = copyTime(t)
	r.touch()
}

func (r *Record) setSubmittedAt(t time.Time) {
	if !r.submittedAt.Equal(t) {
		r.submittedAt = t
		r.touch()
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
