// Package emit defines the observability event surface of the graph
// engine. The engine reports node starts/ends, routing decisions,
// checkpoint writes, and interrupts through an Emitter; backends range
// from structured logs to OpenTelemetry spans.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: never slow down the super-step loop
//   - Thread-safe: node-level events fire from concurrent goroutines
//   - Resilient: a failing backend must not crash the workflow
type Emitter interface {
	// Emit delivers one event. It must not panic; backend errors are
	// handled internally.
	Emit(event Event)
}
