package graph

import "context"

// StreamMode selects which events a Stream call delivers.
type StreamMode string

const (
	// StreamValues delivers the full merged state after every
	// super-step.
	StreamValues StreamMode = "values"
	// StreamUpdates delivers only the per-node update maps of each
	// super-step.
	StreamUpdates StreamMode = "updates"
	// StreamMessages delivers values written to the messages channel,
	// one event per contributing node.
	StreamMessages StreamMode = "messages"
	// StreamDebug delivers everything: node lifecycle, routing
	// decisions, checkpoints, values and updates.
	StreamDebug StreamMode = "debug"
)

// MessagesChannel is the conventional channel name watched by
// StreamMessages.
const MessagesChannel = "messages"

// EventType discriminates StreamEvent payloads.
type EventType string

const (
	EventValues      EventType = "values"
	EventUpdates     EventType = "updates"
	EventMessage     EventType = "message"
	EventNodeStart   EventType = "node_start"
	EventNodeEnd     EventType = "node_end"
	EventRouting     EventType = "routing"
	EventCheckpoint  EventType = "checkpoint"
	EventInterrupted EventType = "interrupted"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// StreamEvent is one observation of a running graph. Which fields are
// populated depends on Type:
//
//	EventValues       Step, State (post-merge snapshot)
//	EventUpdates      Step, Updates (node id -> that node's updates)
//	EventMessage      Step, Node, Message
//	EventNodeStart    Step, Node
//	EventNodeEnd      Step, Node
//	EventRouting      Step, Node (router source), RouteKey, Target
//	EventCheckpoint   Step, CheckpointID
//	EventInterrupted  Step, Node, Interrupt, CheckpointID
//	EventError        Step, Err (also returned by the run)
//	EventDone         Step, State (final state)
type StreamEvent struct {
	Type         EventType
	Step         int
	Node         string
	State        State
	Updates      map[string]map[string]any
	Message      any
	RouteKey     string
	Target       string
	CheckpointID string
	Interrupt    *Interrupt
	Err          error
}

// terminal reports whether the event ends the stream. Terminal events
// are delivered in every mode.
func (e StreamEvent) terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventInterrupted:
		return true
	}
	return false
}

// Stream runs the graph like Invoke but delivers progress on the
// returned channel as the run advances. The channel is closed after a
// terminal event (EventDone, EventError or EventInterrupted); the
// terminal event is delivered regardless of the subscribed modes, so a
// consumer always learns how the run ended. With no modes given,
// StreamValues is assumed.
//
// Sends are blocking: a slow consumer applies backpressure to the run.
// Cancel ctx to abandon both the run and the stream. Failures during
// resumption (a bad ResumeFrom id, a broken store) also arrive as a
// terminal EventError rather than through the error return.
func (c *CompiledGraph) Stream(ctx context.Context, input State, cfg RunConfig, modes ...StreamMode) (<-chan StreamEvent, error) {
	if len(modes) == 0 {
		modes = []StreamMode{StreamValues}
	}
	subscribed := make(modeSet, len(modes))
	for _, m := range modes {
		subscribed[m] = true
	}

	out := make(chan StreamEvent)
	observe := func(ev StreamEvent) {
		if !ev.terminal() && !subscribed.wants(ev.Type) {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	// The run, including checkpoint-load resumption, happens entirely
	// off the caller's goroutine so the first event cannot block before
	// the caller starts receiving.
	go func() {
		defer close(out)

		r, err := c.newRun(ctx, input, cfg, observe)
		if err != nil {
			observe(StreamEvent{Type: EventError, Err: err})
			return
		}
		// Interrupts, failures and completion were already delivered
		// as terminal events by the loop; context cancellation is the
		// one path that was not, and the consumer's ctx already tells
		// it so.
		_, _ = r.loop(ctx)
	}()
	return out, nil
}

// modeSet answers membership for a stream subscription.
type modeSet map[StreamMode]bool

func (m modeSet) wants(t EventType) bool {
	if m[StreamDebug] {
		return true
	}
	switch t {
	case EventValues:
		return m[StreamValues]
	case EventUpdates:
		return m[StreamUpdates]
	case EventMessage:
		return m[StreamMessages]
	}
	return false
}
