package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteCheckpointer is a durable, single-file Checkpointer.
//
// Designed for:
//   - Local workflows requiring persistence across restarts
//   - Development with zero setup (or ":memory:" for tests)
//   - Single-process deployments before migrating to MySQL
//
// It uses WAL mode for concurrent reads and a monotonically increasing
// sequence column so chain order survives timestamp collisions.
type SQLiteCheckpointer struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteCheckpointer opens (creating if needed) a SQLite-backed
// checkpointer at the given path. Use ":memory:" for an in-memory
// database.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteCheckpointer{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteCheckpointer) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			pending_nodes TEXT NOT NULL,
			pause TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_graph_checkpoints_thread
		ON graph_checkpoints(thread_id, seq DESC)`)
	return err
}

// Save appends a checkpoint inside a transaction.
func (s *SQLiteCheckpointer) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	id := cp.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	pendingJSON, err := json.Marshal(cp.PendingNodes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pending nodes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_checkpoints
			(id, thread_id, parent_id, step, state, pending_nodes, pause, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cp.ThreadID, cp.ParentID, cp.Step, string(stateJSON),
		string(pendingJSON), string(cp.Pause), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return id, nil
}

// Latest returns the most recently appended checkpoint for a thread.
func (s *SQLiteCheckpointer) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, step, state, pending_nodes, pause, created_at
		FROM graph_checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1`, threadID)
	return scanCheckpoint(row)
}

// LoadByID returns a checkpoint by id.
func (s *SQLiteCheckpointer) LoadByID(ctx context.Context, id string) (*Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, step, state, pending_nodes, pause, created_at
		FROM graph_checkpoints
		WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// List returns a thread's checkpoints, most recent first.
func (s *SQLiteCheckpointer) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, parent_id, step, state, pending_nodes, pause, created_at
		FROM graph_checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	if out == nil {
		out = []*Checkpoint{}
	}
	return out, nil
}

// Delete removes all checkpoints for a thread.
func (s *SQLiteCheckpointer) Delete(ctx context.Context, threadID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM graph_checkpoints WHERE thread_id = ?", threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close releases the database connection. Calling Close more than once
// is safe.
func (s *SQLiteCheckpointer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteCheckpointer) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("checkpointer is closed")
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanCheckpoint.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp          Checkpoint
		stateJSON   string
		pendingJSON string
		pause       string
		createdAt   string
	)
	err := row.Scan(&cp.ID, &cp.ThreadID, &cp.ParentID, &cp.Step,
		&stateJSON, &pendingJSON, &pause, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &cp.PendingNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending nodes: %w", err)
	}
	cp.Pause = PauseKind(pause)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	cp.CreatedAt = ts
	return &cp, nil
}
