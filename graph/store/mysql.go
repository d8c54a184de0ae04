package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLCheckpointer is a durable Checkpointer backed by MySQL, for
// deployments where checkpoints must survive the host. The schema
// mirrors the SQLite checkpointer: one append-only table keyed by an
// auto-increment sequence so chain order is exact.
//
// DSN format follows go-sql-driver/mysql, e.g.
// "user:pass@tcp(localhost:3306)/workflows?parseTime=true".
type MySQLCheckpointer struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLCheckpointer connects to MySQL and creates the checkpoint
// table if it does not exist.
func NewMySQLCheckpointer(dsn string) (*MySQLCheckpointer, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLCheckpointer{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLCheckpointer) createTables(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			thread_id VARCHAR(255) NOT NULL,
			parent_id VARCHAR(64) NOT NULL DEFAULT '',
			step INT NOT NULL,
			state JSON NOT NULL,
			pending_nodes JSON NOT NULL,
			pause VARCHAR(16) NOT NULL DEFAULT '',
			created_at VARCHAR(40) NOT NULL,
			INDEX idx_thread (thread_id, seq DESC)
		)`)
	return err
}

// Save appends a checkpoint inside a transaction.
func (m *MySQLCheckpointer) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	if err := m.guard(); err != nil {
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

	tx, err := m.db.BeginTx(ctx, nil)
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
func (m *MySQLCheckpointer) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, step, state, pending_nodes, pause, created_at
		FROM graph_checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1`, threadID)
	return scanCheckpoint(row)
}

// LoadByID returns a checkpoint by id.
func (m *MySQLCheckpointer) LoadByID(ctx context.Context, id string) (*Checkpoint, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, step, state, pending_nodes, pause, created_at
		FROM graph_checkpoints
		WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// List returns a thread's checkpoints, most recent first.
func (m *MySQLCheckpointer) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `
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
func (m *MySQLCheckpointer) Delete(ctx context.Context, threadID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx,
		"DELETE FROM graph_checkpoints WHERE thread_id = ?", threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close releases the connection pool. Calling Close more than once is
// safe.
func (m *MySQLCheckpointer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLCheckpointer) guard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("checkpointer is closed")
	}
	return nil
}
