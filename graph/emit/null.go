package emit

// NullEmitter discards all events. Use it to disable observability
// without changing engine wiring.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. It is safe for concurrent use
// and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
