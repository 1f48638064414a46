// Package checkpoint persists per-document batch progress in a SQLite
// file. The checkpoint is the sole source of truth for resume: every state
// transition is written transactionally before the orchestrator moves on,
// and transitions that would regress a document's state are rejected.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"docextract/constants"
	"docextract/internal/common"
)

// Entry is one document's row in the checkpoint.
type Entry struct {
	DocumentID string
	State      constants.DocState
	Attempts   int
	LastError  string
	UpdatedAt  time.Time
}

// Store is the checkpoint handle. Safe for concurrent use; SQLite
// serializes writers and every transition runs in its own transaction.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the checkpoint file and verifies its integrity.
// A corrupt file is the one fatal error class: the caller must stop and let
// an operator intervene.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrCheckpointCorrupt, path, err)
	}
	// Single connection keeps transaction semantics simple under the
	// worker pool.
	db.SetMaxOpenConns(1)

	var result string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil || result != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: integrity_check=%q err=%v", common.ErrCheckpointCorrupt, path, result, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoint (
			document_id TEXT PRIMARY KEY,
			state       TEXT NOT NULL DEFAULT 'PENDING',
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			updated_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoint_state ON checkpoint (state);
	`)
	if err != nil {
		return fmt.Errorf("%w: create schema: %v", common.ErrCheckpointCorrupt, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init registers documents as PENDING. Existing rows are left untouched so
// a resumed batch keeps its history.
func (s *Store) Init(ctx context.Context, docIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, id := range docIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO checkpoint (document_id, state, updated_at) VALUES (?, ?, ?)`,
			id, string(constants.DocPending), now); err != nil {
			return fmt.Errorf("init %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get returns one document's entry.
func (s *Store) Get(ctx context.Context, docID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document_id, state, attempts, last_error, updated_at FROM checkpoint WHERE document_id = ?`, docID)
	return scanEntry(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var state string
	var updatedAt int64
	if err := row.Scan(&e.DocumentID, &state, &e.Attempts, &e.LastError, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, common.ErrNotFound
		}
		return Entry{}, err
	}
	e.State = constants.DocState(state)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return e, nil
}

// transition applies old→new under monotonicity inside one transaction.
func (s *Store) transition(ctx context.Context, docID string, next constants.DocState, lastError string, bumpAttempts bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	if err := tx.QueryRowContext(ctx,
		`SELECT state FROM checkpoint WHERE document_id = ?`, docID).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return err
	}
	current := constants.DocState(state)
	if !current.CanTransition(next) {
		return fmt.Errorf("checkpoint regression %s: %s → %s", docID, current, next)
	}

	query := `UPDATE checkpoint SET state = ?, last_error = ?, updated_at = ? WHERE document_id = ?`
	args := []any{string(next), lastError, time.Now().UnixMilli(), docID}
	if bumpAttempts {
		query = `UPDATE checkpoint SET state = ?, last_error = ?, updated_at = ?, attempts = attempts + 1 WHERE document_id = ?`
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", docID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}

	s.logger.Debug("checkpoint.transition", "doc_id", docID, "from", current, "to", next)
	return nil
}

// MarkInProgress claims a PENDING document and counts the attempt.
func (s *Store) MarkInProgress(ctx context.Context, docID string) error {
	return s.transition(ctx, docID, constants.DocInProgress, "", true)
}

// MarkComplete finalizes a document. Callers must only do this after the
// extraction record is fully finalized.
func (s *Store) MarkComplete(ctx context.Context, docID string) error {
	return s.transition(ctx, docID, constants.DocComplete, "", false)
}

// MarkFailed records a failed processing attempt.
func (s *Store) MarkFailed(ctx context.Context, docID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.transition(ctx, docID, constants.DocFailed, msg, false)
}

// Requeue moves FAILED documents with attempts < maxAttempts back to
// PENDING (the one legal backward move) and returns how many were requeued.
// Stale IN_PROGRESS rows from a crashed run are requeued the same way,
// since the process that claimed them is gone.
func (s *Store) Requeue(ctx context.Context, maxAttempts int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoint SET state = ?, updated_at = ?
		 WHERE (state = ? AND attempts < ?) OR state = ?`,
		string(constants.DocPending), time.Now().UnixMilli(),
		string(constants.DocFailed), maxAttempts,
		string(constants.DocInProgress))
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Pending returns document IDs still needing work, in insertion order.
func (s *Store) Pending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id FROM checkpoint WHERE state = ? ORDER BY rowid`,
		string(constants.DocPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot returns every entry, ordered by document ID.
func (s *Store) Snapshot(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, state, attempts, last_error, updated_at FROM checkpoint ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
