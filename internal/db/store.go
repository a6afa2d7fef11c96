package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mtr002/docjobs/internal/interfaces"
)

// Store handles database operations for job descriptors and results
type Store struct {
	db *sql.DB
}

var _ interfaces.Store = (*Store)(nil)

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const processColumns = `id, type, status, action, payload, message, result, error, created_at, last_updated, completed_at`

// Init creates the collections if they do not exist yet
func (s *Store) Init(_ context.Context) error {
	return RunMigrations(s.db)
}

// Put upserts a descriptor, replacing every column
func (s *Store) Put(ctx context.Context, d *interfaces.Descriptor) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	d.LastUpdated = time.Now().UTC()

	query := `
		INSERT INTO processes (` + processColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			action = EXCLUDED.action,
			payload = EXCLUDED.payload,
			message = EXCLUDED.message,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			created_at = EXCLUDED.created_at,
			last_updated = EXCLUDED.last_updated,
			completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Type, d.Status, d.Action, nullJSON(d.Payload), d.Message, nullJSON(d.Result), d.Error,
		d.CreatedAt, d.LastUpdated, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}
	return nil
}

// GetByID retrieves a descriptor by ID
func (s *Store) GetByID(ctx context.Context, id string) (*interfaces.Descriptor, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE id = $1`

	d, err := scanDescriptor(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return d, nil
}

// GetAll retrieves every descriptor, oldest first
func (s *Store) GetAll(ctx context.Context) ([]*interfaces.Descriptor, error) {
	query := `SELECT ` + processColumns + ` FROM processes ORDER BY created_at ASC`
	return s.queryDescriptors(ctx, query)
}

// Delete removes a descriptor; deleting a missing id is not an error
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// QueryActive returns pending and running descriptors, optionally of one type
func (s *Store) QueryActive(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.Descriptor, error) {
	query := `
		SELECT ` + processColumns + `
		FROM processes
		WHERE status IN ($1, $2) AND ($3::text = '' OR type = $3::text)
		ORDER BY created_at ASC
	`
	return s.queryDescriptors(ctx, query, interfaces.StatusPending, interfaces.StatusRunning, string(jobType))
}

func (s *Store) queryDescriptors(ctx context.Context, query string, args ...any) ([]*interfaces.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []*interfaces.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, d)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// PutResult upserts a row of the category result collection
func (s *Store) PutResult(ctx context.Context, r *interfaces.ResultRecord) error {
	if r == nil || r.ID == "" || r.Type == "" {
		return fmt.Errorf("result id and type are required")
	}
	query := `
		INSERT INTO results (type, job_id, result, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (type, job_id) DO UPDATE SET result = EXCLUDED.result, created_at = EXCLUDED.created_at
	`
	result := nullJSON(r.Result)
	if result == nil {
		result = "null"
	}
	if _, err := s.db.ExecContext(ctx, query, r.Type, r.ID, result, r.Timestamp); err != nil {
		return fmt.Errorf("failed to put result: %w", err)
	}
	return nil
}

// GetResults lists the result collection of one category
func (s *Store) GetResults(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, type, result, created_at FROM results WHERE type = $1 ORDER BY created_at ASC`, jobType)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []*interfaces.ResultRecord
	for rows.Next() {
		r := &interfaces.ResultRecord{}
		var raw []byte
		if err := rows.Scan(&r.ID, &r.Type, &raw, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Result = raw
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// DeleteResult removes one result row
func (s *Store) DeleteResult(ctx context.Context, jobType interfaces.JobType, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE type = $1 AND job_id = $2`, jobType, id); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// Clear empties processes and results in one transaction
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processes`); err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row rowScanner) (*interfaces.Descriptor, error) {
	d := &interfaces.Descriptor{}
	var payload, result []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.Type, &d.Status, &d.Action, &payload, &d.Message, &result, &d.Error,
		&d.CreatedAt, &d.LastUpdated, &completedAt)
	if err != nil {
		return nil, err
	}

	d.Payload = payload
	d.Result = result
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	return d, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
