package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fhirindex/internal/job"
	"fhirindex/internal/store"
)

var _ store.JobStore = (*Store)(nil)

const summaryColumns = "id, submitted, completed, total, processed, status, elapsed, error_text, identifier_type"

// Save writes rec if it changed since it was last persisted.
func (s *Store) Save(ctx context.Context, rec *job.Record) error {
	state, version, dirty := rec.Snapshot()
	if !dirty {
		return nil
	}

	var err error
	switch {
	case state.Status == job.StatusDeleted:
		// a record deleted before its first write never reaches the table
		if !rec.IsNew() {
			err = s.Delete(ctx, state.ID)
		}
	case rec.IsNew():
		err = s.insert(ctx, state)
	default:
		err = s.update(ctx, state)
	}
	if err != nil {
		return err
	}

	rec.MarkPersisted(version)
	return nil
}

// Insert writes a new record row.
func (s *Store) Insert(ctx context.Context, rec *job.Record) error {
	state, version, _ := rec.Snapshot()
	if err := s.insert(ctx, state); err != nil {
		return err
	}
	rec.MarkPersisted(version)
	return nil
}

// Update writes the mutable columns of an existing record.
func (s *Store) Update(ctx context.Context, rec *job.Record) error {
	state, version, _ := rec.Snapshot()
	if err := s.update(ctx, state); err != nil {
		return err
	}
	rec.MarkPersisted(version)
	return nil
}

func (s *Store) insert(ctx context.Context, st job.State) error {
	query := `
		INSERT INTO indexing_queue (id, submitted, completed, total, processed, status, elapsed, error_text, identifier_type, identifiers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID,
		st.SubmittedAt,
		nullTime(st.CompletedAt),
		st.Total,
		st.Processed,
		int(st.Status),
		st.ElapsedMillis,
		nullString(st.ErrorText),
		string(st.IdentifierType),
		strings.Join(st.Identifiers, "\n"),
	)
	return store.Wrap("insert", st.ID, err)
}

func (s *Store) update(ctx context.Context, st job.State) error {
	query := `
		UPDATE indexing_queue
		SET submitted = $2, completed = $3, processed = $4, status = $5, elapsed = $6, error_text = $7
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		st.ID,
		st.SubmittedAt,
		nullTime(st.CompletedAt),
		st.Processed,
		int(st.Status),
		st.ElapsedMillis,
		nullString(st.ErrorText),
	)
	if err != nil {
		return store.Wrap("update", st.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("update", st.ID, err)
	}
	if n == 0 {
		return store.Wrap("update", st.ID, store.ErrNotFound)
	}
	return nil
}

// Delete removes a record row. Deleting an absent row is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM indexing_queue WHERE id = $1", id)
	return store.Wrap("delete", id, err)
}

// Fetch loads a record by id.
func (s *Store) Fetch(ctx context.Context, id string) (*job.Record, error) {
	query := "SELECT " + summaryColumns + ", identifiers FROM indexing_queue WHERE id = $1"

	var (
		st          job.State
		completed   sql.NullTime
		status      int
		errorText   sql.NullString
		idType      string
		identifiers string
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&st.ID, &st.SubmittedAt, &completed, &st.Total, &st.Processed,
		&status, &st.ElapsedMillis, &errorText, &idType, &identifiers,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Wrap("fetch", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Wrap("fetch", id, err)
	}

	if err := decodeSummaryFields(&st, completed, status, errorText, idType); err != nil {
		return nil, store.Wrap("fetch", id, err)
	}
	st.Identifiers = splitIdentifiers(identifiers)

	return job.Restore(st), nil
}

// ScanReady streams the ids of queued, uncompleted records in submission order.
func (s *Store) ScanReady(ctx context.Context, sink func(id string) error) error {
	query := `
		SELECT id FROM indexing_queue
		WHERE status = $1 AND completed IS NULL
		ORDER BY submitted ASC
	`

	rows, err := s.db.QueryContext(ctx, query, int(job.StatusQueued))
	if err != nil {
		return store.Wrap("scan queue", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return store.Wrap("scan queue", "", err)
		}
		if err := sink(id); err != nil {
			return err
		}
	}

	return store.Wrap("scan queue", "", rows.Err())
}

// ListSummaries returns every record, newest first, without identifiers.
func (s *Store) ListSummaries(ctx context.Context) ([]job.Summary, error) {
	query := "SELECT " + summaryColumns + " FROM indexing_queue ORDER BY submitted DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, store.Wrap("list jobs", "", err)
	}
	defer rows.Close()

	var summaries []job.Summary
	for rows.Next() {
		var (
			st        job.State
			completed sql.NullTime
			status    int
			errorText sql.NullString
			idType    string
		)
		if err := rows.Scan(
			&st.ID, &st.SubmittedAt, &completed, &st.Total, &st.Processed,
			&status, &st.ElapsedMillis, &errorText, &idType,
		); err != nil {
			return nil, store.Wrap("list jobs", "", err)
		}
		if err := decodeSummaryFields(&st, completed, status, errorText, idType); err != nil {
			return nil, store.Wrap("list jobs", st.ID, err)
		}

		summaries = append(summaries, job.Summary{
			ID:             st.ID,
			Status:         st.Status,
			SubmittedAt:    st.SubmittedAt,
			CompletedAt:    st.CompletedAt,
			IdentifierType: st.IdentifierType,
			Total:          st.Total,
			Processed:      st.Processed,
			ErrorText:      st.ErrorText,
			ElapsedMillis:  st.ElapsedMillis,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list jobs", "", err)
	}
	return summaries, nil
}

// RecoverInterrupted requeues records a crashed process left RUNNING.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE indexing_queue SET status = $1 WHERE status = $2",
		int(job.StatusQueued), int(job.StatusRunning),
	)
	if err != nil {
		return 0, store.Wrap("recover interrupted jobs", "", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Wrap("recover interrupted jobs", "", err)
	}
	return n, nil
}

func decodeSummaryFields(st *job.State, completed sql.NullTime, status int, errorText sql.NullString, idType string) error {
	st.Status = job.Status(status)
	if !st.Status.Valid() {
		return fmt.Errorf("invalid status ordinal %d", status)
	}

	t, err := job.ParseIdentifierType(idType)
	if err != nil {
		return err
	}
	st.IdentifierType = t

	if completed.Valid {
		c := completed.Time
		st.CompletedAt = &c
	}
	st.ErrorText = errorText.String
	return nil
}

func splitIdentifiers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
