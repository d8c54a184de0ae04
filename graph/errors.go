package graph

import "fmt"

// StructuralError reports compile-time graph invalidity: a dangling
// edge endpoint, a duplicate node id, or a missing entry point. It is
// surfaced only by Compile; nothing downstream re-validates topology.
type StructuralError struct {
	// ID is the offending node id, if one exists.
	ID string

	// Reason describes the violation.
	Reason string
}

func (e *StructuralError) Error() string {
	if e.ID != "" {
		return "graph structure invalid: " + e.Reason + ": " + e.ID
	}
	return "graph structure invalid: " + e.Reason
}

// RoutingError reports that a conditional router returned a key absent
// from its target mapping. It is fatal to the run.
type RoutingError struct {
	Node string
	Key  string
	Step int
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed at step %d: node %s returned unmapped key %q", e.Step, e.Node, e.Key)
}

// NodeExecutionError reports a node capability failure. It is fatal to
// the run; the engine performs no automatic retry. When multiple nodes
// fail in the same super-step, the error of the lowest-registration-
// order node is reported.
type NodeExecutionError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.Node, e.Step, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// RecursionLimitError is the safety valve for cyclic graphs that never
// signal termination. It is a non-crashing stop: State carries the
// merged state at truncation so callers can diagnose runaway cycles.
type RecursionLimitError struct {
	Limit int
	Step  int
	State State
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit %d exceeded at step %d", e.Limit, e.Step)
}

// InterruptError signals a paused, resumable run. It is not a failure:
// the checkpoint holds the resumable position, and invoking the same
// thread ID again (typically after UpdateState) continues execution.
type InterruptError struct {
	// Reason and Payload come from the interrupt that paused the run.
	Reason  string
	Payload any

	// Node is the node the pause is attached to.
	Node string

	// ThreadID and Step locate the pause.
	ThreadID string
	Step     int

	// State is the merged state persisted with the pause checkpoint.
	State State

	// CheckpointID identifies the persisted pause checkpoint, when a
	// checkpointer is configured.
	CheckpointID string
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("execution paused at step %d (node %s): %s", e.Step, e.Node, e.Reason)
}
