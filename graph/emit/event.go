package emit

// Event names used by the engine. Backends can filter on Msg.
const (
	MsgNodeStart       = "node_start"
	MsgNodeEnd         = "node_end"
	MsgStepComplete    = "step_complete"
	MsgRoutingDecision = "routing_decision"
	MsgCheckpointSaved = "checkpoint_saved"
	MsgInterrupted     = "interrupted"
	MsgRunCompleted    = "run_completed"
	MsgRunFailed       = "run_failed"
)

// Event is one observability record from a run.
type Event struct {
	// ThreadID identifies the run that emitted this event.
	ThreadID string

	// Step is the super-step number (0 for run-level events).
	Step int

	// NodeID identifies the originating node, empty for step- and
	// run-level events.
	NodeID string

	// Msg names the event (see the Msg* constants).
	Msg string

	// Meta carries structured extras. Common keys: "duration_ms",
	// "error", "route_key", "target", "checkpoint_id", "reason".
	Meta map[string]any
}
