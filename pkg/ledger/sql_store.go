package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerline/warden/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLStore implements Store over database/sql with a SQLite schema. The
// UNIQUE constraint on evidence fingerprints is what makes replay prevention
// durable across restarts.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite-backed store at the given path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing connection and applies the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		state TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		finalized INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS evidence_links (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		point TEXT NOT NULL,
		kind TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		captured_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Close releases the underlying connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// Insert implements Store.
func (s *SQLStore) Insert(ctx context.Context, rec contracts.ExecutionRecord) error {
	query := `
		INSERT INTO executions (id, request_id, state, attempt_count, max_attempts, finalized, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RequestID, string(rec.State), rec.AttemptCount, rec.MaxAttempts, boolToInt(rec.Finalized), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (contracts.ExecutionRecord, error) {
	query := `SELECT id, request_id, state, attempt_count, max_attempts, finalized, created_at, updated_at FROM executions WHERE id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, rec contracts.ExecutionRecord) error {
	query := `
		UPDATE executions
		SET state = ?, attempt_count = ?, finalized = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, string(rec.State), rec.AttemptCount, boolToInt(rec.Finalized), rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]contracts.ExecutionRecord, error) {
	query := `SELECT id, request_id, state, attempt_count, max_attempts, finalized, created_at, updated_at FROM executions ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.ExecutionRecord, 0)
	for rows.Next() {
		rec, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// LinkEvidence implements Store. The UNIQUE fingerprint constraint rejects a
// replay at the storage layer as well.
func (s *SQLStore) LinkEvidence(ctx context.Context, rec contracts.EvidenceRecord) error {
	if _, linked, err := s.FingerprintOwner(ctx, rec.Fingerprint); err != nil {
		return err
	} else if linked {
		return ErrReplay
	}
	query := `
		INSERT INTO evidence_links (id, execution_id, point, kind, fingerprint, status, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ExecutionID, string(rec.Point), rec.Kind, rec.Fingerprint, string(rec.Status), rec.CapturedAt,
	)
	return err
}

// EvidenceFor implements Store.
func (s *SQLStore) EvidenceFor(ctx context.Context, executionID string) ([]contracts.EvidenceRecord, error) {
	query := `SELECT id, execution_id, point, kind, fingerprint, status, captured_at FROM evidence_links WHERE execution_id = ? ORDER BY captured_at`
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.EvidenceRecord, 0)
	for rows.Next() {
		var rec contracts.EvidenceRecord
		var point, status string
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &point, &rec.Kind, &rec.Fingerprint, &status, &rec.CapturedAt); err != nil {
			return nil, err
		}
		rec.Point = contracts.ObservationPoint(point)
		rec.Status = contracts.EvidenceStatus(status)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// FingerprintOwner implements Store.
func (s *SQLStore) FingerprintOwner(ctx context.Context, fingerprint string) (string, bool, error) {
	query := `SELECT execution_id FROM evidence_links WHERE fingerprint = ?`
	var owner string
	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanOne(row *sql.Row) (contracts.ExecutionRecord, error) {
	rec, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ExecutionRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLStore) scanRow(row rowScanner) (contracts.ExecutionRecord, error) {
	var rec contracts.ExecutionRecord
	var state string
	var finalized int
	err := row.Scan(&rec.ID, &rec.RequestID, &state, &rec.AttemptCount, &rec.MaxAttempts, &finalized, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	rec.State = contracts.ExecutionState(state)
	rec.Finalized = finalized != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
