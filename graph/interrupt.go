package graph

// Interrupt is a resumable pause request. It is a control signal, not
// an error: execution can continue by applying UpdateState and
// re-invoking the graph with the same thread ID.
//
// Interrupts come in two flavors:
//   - dynamic: a node returns one from Execute (human-in-the-loop
//     approval, missing data, external review)
//   - static: the graph is configured to pause before or after a node
//     via WithInterruptBefore / WithInterruptAfter
type Interrupt struct {
	// Reason is a human-readable description of why execution paused.
	Reason string `json:"reason"`

	// Payload carries structured data for whoever handles the pause
	// (e.g. the pending action awaiting approval). May be nil.
	Payload any `json:"payload,omitempty"`
}

// NewInterrupt creates a dynamic interrupt with the given reason.
func NewInterrupt(reason string) *Interrupt {
	return &Interrupt{Reason: reason}
}

// NewInterruptWithPayload creates a dynamic interrupt carrying data.
func NewInterruptWithPayload(reason string, payload any) *Interrupt {
	return &Interrupt{Reason: reason, Payload: payload}
}
