// Package store provides durable persistence for graph execution
// checkpoints. Checkpoints form an append-only chain per thread:
// they are never overwritten, which enables both time travel (List)
// and resumption (Latest / LoadByID).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoints or a
// checkpoint id does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// PauseKind records why a checkpoint carries pending nodes. Regular
// end-of-step checkpoints have no pause kind and no pending nodes.
type PauseKind string

const (
	// PauseNone marks a regular end-of-step checkpoint.
	PauseNone PauseKind = ""

	// PauseBefore marks a static pause taken before executing the
	// pending nodes.
	PauseBefore PauseKind = "before"

	// PauseAfter marks a static pause taken after a node completed;
	// the pending nodes are the resolved next active set.
	PauseAfter PauseKind = "after"

	// PauseDynamic marks a pause requested by a node's own outcome;
	// the pending nodes re-run on resume.
	PauseDynamic PauseKind = "dynamic"
)

// Checkpoint is a persisted, immutable snapshot of one run position.
type Checkpoint struct {
	// ID uniquely identifies this checkpoint.
	ID string `json:"id"`

	// ThreadID scopes the checkpoint to one independent, resumable
	// run. Checkpoints across thread IDs never interact.
	ThreadID string `json:"thread_id"`

	// ParentID links to the previous checkpoint in the thread's
	// chain, empty for the first.
	ParentID string `json:"parent_id,omitempty"`

	// Step is the super-step number this snapshot belongs to. Step 0
	// is the initialized input state.
	Step int `json:"step"`

	// State is the fully merged state at this position.
	State map[string]any `json:"state"`

	// PendingNodes is the active set to resume with, non-empty only
	// for pause checkpoints.
	PendingNodes []string `json:"pending_nodes,omitempty"`

	// Pause records the pause variant for pause checkpoints.
	Pause PauseKind `json:"pause,omitempty"`

	// CreatedAt is the persistence timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Checkpointer is the durable store contract. Implementations must be
// safe for concurrent use across different thread IDs; callers must
// not invoke the same thread ID from two writers at once.
type Checkpointer interface {
	// Save appends a checkpoint to its thread's chain and returns the
	// checkpoint id. Existing checkpoints are never modified.
	Save(ctx context.Context, cp *Checkpoint) (string, error)

	// Latest returns the most recent checkpoint for a thread, or
	// ErrNotFound.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// LoadByID returns a checkpoint by id, or ErrNotFound.
	LoadByID(ctx context.Context, id string) (*Checkpoint, error)

	// List returns a thread's checkpoints, most recent first. An
	// unknown thread yields an empty list, not an error.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes all checkpoints for a thread.
	Delete(ctx context.Context, threadID string) error
}
