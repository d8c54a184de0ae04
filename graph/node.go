package graph

import "context"

// NodeContext carries the inputs of one node execution: an immutable
// state snapshot plus the run coordinates. Cancellation flows through
// the context.Context passed to Execute.
type NodeContext struct {
	// State is a deep-copied snapshot of the merged state at the start
	// of this super-step. Nodes must not treat it as shared memory;
	// changes are proposed through NodeOutput.Updates.
	State State

	// ThreadID identifies the resumable run this execution belongs to.
	ThreadID string

	// Step is the current super-step number (1-indexed).
	Step int

	// Metadata is caller-supplied run configuration, passed through
	// untouched.
	Metadata map[string]any
}

// Get returns a value from the state snapshot.
func (c *NodeContext) Get(key string) (any, bool) {
	v, ok := c.State[key]
	return v, ok
}

// GetString returns a string channel value, or the empty string.
func (c *NodeContext) GetString(key string) string {
	s, _ := c.State[key].(string)
	return s
}

// GetFloat returns a numeric channel value coerced to float64, or 0.
func (c *NodeContext) GetFloat(key string) float64 {
	return toFloat(c.State[key])
}

// GetBool returns a boolean channel value, or false.
func (c *NodeContext) GetBool(key string) bool {
	b, _ := c.State[key].(bool)
	return b
}

// NodeOutput is the outcome of one node execution: a set of proposed
// channel updates (possibly empty) or an interrupt request. Errors are
// returned separately from Execute.
type NodeOutput struct {
	// Updates are the proposed channel writes, merged into the next
	// state via each channel's reducer.
	Updates map[string]any

	// Interrupt, if set, pauses the run after this super-step drains.
	// An interrupting node contributes no updates.
	Interrupt *Interrupt
}

// NewOutput creates an empty output.
func NewOutput() *NodeOutput {
	return &NodeOutput{Updates: make(map[string]any)}
}

// WithUpdate adds one channel update.
func (o *NodeOutput) WithUpdate(key string, value any) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]any)
	}
	o.Updates[key] = value
	return o
}

// WithUpdates adds multiple channel updates.
func (o *NodeOutput) WithUpdates(updates map[string]any) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]any)
	}
	for k, v := range updates {
		o.Updates[k] = v
	}
	return o
}

// InterruptOutput creates an output that pauses the run.
func InterruptOutput(reason string) *NodeOutput {
	return &NodeOutput{Interrupt: NewInterrupt(reason)}
}

// InterruptOutputWithPayload creates a pausing output carrying data.
func InterruptOutputWithPayload(reason string, payload any) *NodeOutput {
	return &NodeOutput{Interrupt: NewInterruptWithPayload(reason, payload)}
}

// Node is a named unit of work in the graph. Each super-step the
// engine executes every active node concurrently against the same
// snapshot; the engine imposes no ordering between them.
type Node interface {
	// Name returns the node's unique id within the graph.
	Name() string

	// Execute runs the node's logic. It returns exactly one of:
	// channel updates (possibly empty), an interrupt request, or an
	// error. A timeout inside the wrapped work should surface as an
	// error; the engine does not retry.
	Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error)
}

// NodeFunc adapts a plain function into a Node. This is the
// pure-function node variant: the transform is supplied inline.
//
//	g.AddNodeFunc("summarize", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
//	    return graph.NewOutput().WithUpdate("summary", shorten(nc.GetString("input"))), nil
//	})
type NodeFunc func(ctx context.Context, nc *NodeContext) (*NodeOutput, error)

type funcNode struct {
	name string
	fn   NodeFunc
}

func (n *funcNode) Name() string { return n.name }

func (n *funcNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return n.fn(ctx, nc)
}

// NewNodeFunc wraps fn as a named Node.
func NewNodeFunc(name string, fn NodeFunc) Node {
	return &funcNode{name: name, fn: fn}
}

// Capability is the external contract for the unit of work a node
// wraps (an LLM call, a tool invocation, a service request). The
// engine is agnostic to what the capability does; it only invokes it
// with a snapshot and merges its output.
type Capability interface {
	Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error)
}

type capabilityNode struct {
	name string
	cap  Capability
}

func (n *capabilityNode) Name() string { return n.name }

func (n *capabilityNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return n.cap.Execute(ctx, nc)
}

// NewCapabilityNode wraps an externally supplied capability as a Node.
func NewCapabilityNode(name string, cap Capability) Node {
	return &capabilityNode{name: name, cap: cap}
}

// PassthroughNode passes state through unchanged. Useful as a join
// point after a fan-out.
type PassthroughNode struct {
	name string
}

// NewPassthroughNode creates a node that produces no updates.
func NewPassthroughNode(name string) *PassthroughNode {
	return &PassthroughNode{name: name}
}

func (n *PassthroughNode) Name() string { return n.name }

func (n *PassthroughNode) Execute(context.Context, *NodeContext) (*NodeOutput, error) {
	return NewOutput(), nil
}
