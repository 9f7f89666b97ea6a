// Package queue holds the in-memory work queue of job ids and the cache of
// in-flight job records.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultRefreshInterval is how long an empty queue waits before rescanning the store.
	DefaultRefreshInterval = 60 * time.Second
	// MinRefreshInterval bounds how often the store can be scanned.
	MinRefreshInterval = 10 * time.Second
)

// Scanner lists the ids of records ready to run, oldest first.
type Scanner interface {
	ScanReady(ctx context.Context, sink func(id string) error) error
}

// Config holds queue settings.
type Config struct {
	RefreshInterval time.Duration
}

// Queue is a FIFO of ready job ids, refilled from the store when it runs dry.
// A refill happens at most once per refresh interval unless InvalidateNow is called.
type Queue struct {
	scanner  Scanner
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	items    []string
	present  map[string]struct{}
	nextPoll time.Time
}

// New creates a queue that refills from scanner.
func New(scanner Scanner, cfg Config, logger *slog.Logger) *Queue {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshInterval < MinRefreshInterval {
		cfg.RefreshInterval = MinRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		scanner:  scanner,
		interval: cfg.RefreshInterval,
		logger:   logger,
		now:      time.Now,
		present:  make(map[string]struct{}),
	}
}

// RefreshInterval returns the effective cooldown between store scans.
func (q *Queue) RefreshInterval() time.Duration {
	return q.interval
}

// Dequeue pops the next job id. When the queue is empty and the cooldown has
// passed it rescans the store first. ok is false when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 && !q.now().Before(q.nextPoll) {
		// the deadline moves even when the scan fails so a broken store is not hammered
		q.nextPoll = q.now().Add(q.interval)

		err := q.scanner.ScanReady(ctx, func(id string) error {
			q.push(id)
			return nil
		})
		if err != nil {
			return "", false, err
		}

		if n := len(q.items); n > 0 {
			q.logger.Debug("Queue refilled from store", "count", n)
		}
	}

	if len(q.items) == 0 {
		return "", false, nil
	}

	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	delete(q.present, id)
	return id, true, nil
}

// InvalidateNow lets the next Dequeue on an empty queue rescan immediately.
func (q *Queue) InvalidateNow() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextPoll = time.Time{}
}

// Len returns the number of ids waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) push(id string) {
	if _, ok := q.present[id]; ok {
		return
	}
	q.present[id] = struct{}{}
	q.items = append(q.items, id)
}
