// Package store contains the persistence layer for indexing jobs.
package store

import (
	"context"

	"fhirindex/internal/job"
)

// JobStore persists job records in the indexing queue table.
type JobStore interface {
	// Save writes a record if it changed since it was last persisted.
	// New records are inserted, DELETED records are removed, and everything
	// else is updated.
	Save(ctx context.Context, rec *job.Record) error

	// Insert writes a new record row.
	Insert(ctx context.Context, rec *job.Record) error

	// Update writes the mutable columns of an existing record.
	Update(ctx context.Context, rec *job.Record) error

	// Delete removes a record row.
	Delete(ctx context.Context, id string) error

	// Fetch loads a record by id. It returns ErrNotFound when absent.
	Fetch(ctx context.Context, id string) (*job.Record, error)

	// ScanReady calls sink with the id of every queued, uncompleted record,
	// oldest submission first.
	ScanReady(ctx context.Context, sink func(id string) error) error

	// ListSummaries returns every record without its identifier list.
	ListSummaries(ctx context.Context) ([]job.Summary, error)

	// RecoverInterrupted requeues records left RUNNING by a previous process.
	RecoverInterrupted(ctx context.Context) (int64, error)

	// Ping checks the database connection.
	Ping(ctx context.Context) error
}
