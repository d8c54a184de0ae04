package graph

import (
	"context"

	"github.com/dshills/stategraph-go/graph/emit"
	"github.com/dshills/stategraph-go/graph/store"
)

// StateGraph builds a workflow graph: a registry of nodes, the edges
// between them, and the channel schema governing state merges.
//
// Construction is infallible; all structural problems are collected
// and reported by Compile. This keeps builder chains readable:
//
//	compiled, err := graph.NewStateGraph(schema).
//	    AddNodeFunc("plan", planFn).
//	    AddNodeFunc("act", actFn).
//	    AddEdge(graph.Start, "plan").
//	    AddConditionalEdges("plan", router, map[string]string{
//	        "act":  "act",
//	        "done": graph.End,
//	    }).
//	    AddEdge("act", "plan").
//	    Compile()
type StateGraph struct {
	schema *Schema
	nodes  map[string]Node
	order  []string // node ids in registration order
	edges  []edge
	errs   []*StructuralError
}

// NewStateGraph creates a builder over the given channel schema. A nil
// schema means every channel defaults to Overwrite.
func NewStateGraph(schema *Schema) *StateGraph {
	if schema == nil {
		schema = NewSchema()
	}
	return &StateGraph{
		schema: schema,
		nodes:  make(map[string]Node),
	}
}

// WithChannels creates a builder with a simple all-Overwrite schema.
func WithChannels(names ...string) *StateGraph {
	return NewStateGraph(SimpleSchema(names...))
}

// AddNode registers a node. Registration order is significant: it
// fixes the merge fold order and deterministic error selection when
// nodes run in the same super-step.
func (g *StateGraph) AddNode(node Node) *StateGraph {
	name := node.Name()
	if name == "" || name == Start || name == End {
		g.errs = append(g.errs, &StructuralError{ID: name, Reason: "invalid node id"})
		return g
	}
	if _, exists := g.nodes[name]; exists {
		g.errs = append(g.errs, &StructuralError{ID: name, Reason: "duplicate node id"})
		return g
	}
	g.nodes[name] = node
	g.order = append(g.order, name)
	return g
}

// AddNodeFunc registers a function as a node.
func (g *StateGraph) AddNodeFunc(name string, fn NodeFunc) *StateGraph {
	return g.AddNode(NewNodeFunc(name, fn))
}

// AddCapability registers an external capability as a node.
func (g *StateGraph) AddCapability(name string, cap Capability) *StateGraph {
	return g.AddNode(NewCapabilityNode(name, cap))
}

// AddEdge adds a static edge. Edges from Start form the entry set;
// an edge to End marks a completion path.
func (g *StateGraph) AddEdge(source, target string) *StateGraph {
	if source == Start {
		// Fold all Start edges into one entry set.
		for i := range g.edges {
			if g.edges[i].kind == edgeEntry {
				if target != End && !contains(g.edges[i].entry, target) {
					g.edges[i].entry = append(g.edges[i].entry, target)
				}
				return g
			}
		}
		if target != End {
			g.edges = append(g.edges, edge{kind: edgeEntry, entry: []string{target}})
		}
		return g
	}
	g.edges = append(g.edges, edge{kind: edgeDirect, source: source, target: target})
	return g
}

// AddConditionalEdges adds a router-driven edge. The router runs
// against the post-merge state of the step in which source executed;
// its returned key is looked up in targets. A key absent from the
// mapping fails the run with a RoutingError, except the reserved End
// id, which always terminates the path.
func (g *StateGraph) AddConditionalEdges(source string, router RouterFunc, targets map[string]string) *StateGraph {
	m := make(map[string]string, len(targets))
	for k, v := range targets {
		m[k] = v
	}
	g.edges = append(g.edges, edge{kind: edgeConditional, source: source, router: router, targets: m})
	return g
}

// Compile validates the graph and produces an immutable executable
// form. This is the only place structural problems are reported;
// nothing downstream re-validates topology.
func (g *StateGraph) Compile() (*CompiledGraph, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	order := make(map[string]int, len(g.order))
	for i, name := range g.order {
		order[name] = i
	}
	return &CompiledGraph{
		schema:          g.schema,
		nodes:           g.nodes,
		order:           order,
		edges:           g.edges,
		interruptBefore: make(map[string]bool),
		interruptAfter:  make(map[string]bool),
		recursionLimit:  DefaultRecursionLimit,
	}, nil
}

func (g *StateGraph) validate() error {
	if len(g.errs) > 0 {
		return g.errs[0]
	}

	hasEntry := false
	for _, e := range g.edges {
		switch e.kind {
		case edgeEntry:
			hasEntry = true
			for _, target := range e.entry {
				if _, ok := g.nodes[target]; !ok {
					return &StructuralError{ID: target, Reason: "entry edge references unknown node"}
				}
			}
		case edgeDirect:
			if _, ok := g.nodes[e.source]; !ok {
				return &StructuralError{ID: e.source, Reason: "edge source references unknown node"}
			}
			if e.target != End {
				if _, ok := g.nodes[e.target]; !ok {
					return &StructuralError{ID: e.target, Reason: "edge target references unknown node"}
				}
			}
		case edgeConditional:
			if _, ok := g.nodes[e.source]; !ok {
				return &StructuralError{ID: e.source, Reason: "conditional edge source references unknown node"}
			}
			for _, target := range e.targets {
				if target != End {
					if _, ok := g.nodes[target]; !ok {
						return &StructuralError{ID: target, Reason: "conditional edge target references unknown node"}
					}
				}
			}
		}
	}
	if !hasEntry {
		return &StructuralError{Reason: "no entry point: add an edge from Start"}
	}
	return nil
}

// DefaultRecursionLimit bounds runs of graphs whose cycles never
// signal termination. Override per graph with WithRecursionLimit or
// per run with RunConfig.RecursionLimit.
const DefaultRecursionLimit = 50

// CompiledGraph is a validated, immutable graph shared read-only
// across any number of runs. Configure it with the With* methods
// before sharing; they return the receiver for chaining.
type CompiledGraph struct {
	schema          *Schema
	nodes           map[string]Node
	order           map[string]int // node id -> registration index
	edges           []edge
	checkpointer    store.Checkpointer
	interruptBefore map[string]bool
	interruptAfter  map[string]bool
	recursionLimit  int
	emitter         emit.Emitter
	metrics         *PrometheusMetrics
}

// WithCheckpointer enables durable state snapshots and resumption.
// Without one, runs execute but cannot pause, resume, or be inspected.
func (c *CompiledGraph) WithCheckpointer(cp store.Checkpointer) *CompiledGraph {
	c.checkpointer = cp
	return c
}

// WithInterruptBefore pauses the run whenever one of the named nodes
// becomes active, before it executes. The pause re-triggers on every
// visit, including re-entries inside a cycle; only the single resumed
// step is exempt.
func (c *CompiledGraph) WithInterruptBefore(ids ...string) *CompiledGraph {
	for _, id := range ids {
		c.interruptBefore[id] = true
	}
	return c
}

// WithInterruptAfter pauses the run after one of the named nodes
// completes a super-step. Resumption continues with the following
// nodes; the completed node is not re-executed.
func (c *CompiledGraph) WithInterruptAfter(ids ...string) *CompiledGraph {
	for _, id := range ids {
		c.interruptAfter[id] = true
	}
	return c
}

// WithRecursionLimit sets the maximum number of super-steps per run.
func (c *CompiledGraph) WithRecursionLimit(n int) *CompiledGraph {
	if n > 0 {
		c.recursionLimit = n
	}
	return c
}

// WithEmitter attaches an observability emitter.
func (c *CompiledGraph) WithEmitter(e emit.Emitter) *CompiledGraph {
	c.emitter = e
	return c
}

// WithMetrics attaches Prometheus metrics collection.
func (c *CompiledGraph) WithMetrics(m *PrometheusMetrics) *CompiledGraph {
	c.metrics = m
	return c
}

// entryNodes returns the active set reachable from Start.
func (c *CompiledGraph) entryNodes() []string {
	for _, e := range c.edges {
		if e.kind == edgeEntry {
			out := make([]string, len(e.entry))
			copy(out, e.entry)
			return out
		}
	}
	return nil
}

// routeDecision records one conditional edge resolution, for Debug
// streaming and the routing_decision event.
type routeDecision struct {
	source string
	key    string
	target string
}

// nextActive resolves the next active set after the given nodes
// executed, per the post-merge state. Static edges are always taken;
// conditional edges route through their router. The result is
// deduplicated and ordered by registration index for deterministic
// scheduling.
func (c *CompiledGraph) nextActive(executed []string, state State, step int) ([]string, []routeDecision, error) {
	var (
		next      []string
		decisions []routeDecision
	)
	seen := make(map[string]bool)
	ran := make(map[string]bool, len(executed))
	for _, id := range executed {
		ran[id] = true
	}

	for _, e := range c.edges {
		switch e.kind {
		case edgeDirect:
			if !ran[e.source] {
				continue
			}
			if e.target != End && !seen[e.target] {
				seen[e.target] = true
				next = append(next, e.target)
			}
		case edgeConditional:
			if !ran[e.source] {
				continue
			}
			key := e.router(state)
			target, ok := e.targets[key]
			if !ok {
				if key == End {
					decisions = append(decisions, routeDecision{source: e.source, key: key, target: End})
					continue
				}
				return nil, decisions, &RoutingError{Node: e.source, Key: key, Step: step}
			}
			decisions = append(decisions, routeDecision{source: e.source, key: key, target: target})
			if target != End && !seen[target] {
				seen[target] = true
				next = append(next, target)
			}
		}
	}

	c.sortByRegistration(next)
	return next, decisions, nil
}

// sortByRegistration orders node ids by registration index in place.
func (c *CompiledGraph) sortByRegistration(ids []string) {
	// Insertion sort; active sets are small.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && c.order[ids[j]] < c.order[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func (c *CompiledGraph) emit(ev emit.Event) {
	if c.emitter != nil {
		c.emitter.Emit(ev)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// GetState returns the latest checkpointed state for a thread.
func (c *CompiledGraph) GetState(ctx context.Context, threadID string) (State, error) {
	if c.checkpointer == nil {
		return nil, store.ErrNotFound
	}
	cp, err := c.checkpointer.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return State(cp.State), nil
}

// GetHistory returns a thread's checkpoints, most recent first.
func (c *CompiledGraph) GetHistory(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	if c.checkpointer == nil {
		return nil, store.ErrNotFound
	}
	return c.checkpointer.List(ctx, threadID)
}

// UpdateState merges partial updates into a thread's latest checkpoint
// through each channel's reducer and appends a new checkpoint, without
// executing any node. This is how an external actor satisfies a pause
// (for example, setting an approval flag) before re-invoking the
// thread. Returns the new checkpoint id.
func (c *CompiledGraph) UpdateState(ctx context.Context, threadID string, updates map[string]any) (string, error) {
	if c.checkpointer == nil {
		return "", store.ErrNotFound
	}
	latest, err := c.checkpointer.Latest(ctx, threadID)
	if err != nil {
		return "", err
	}

	state, err := State(latest.State).Clone()
	if err != nil {
		return "", err
	}
	for k, v := range updates {
		c.schema.Apply(state, k, v)
	}

	// The resume position (pending nodes, pause kind) carries over so
	// the edit does not advance execution.
	return c.checkpointer.Save(ctx, &store.Checkpoint{
		ThreadID:     threadID,
		ParentID:     latest.ID,
		Step:         latest.Step,
		State:        state,
		PendingNodes: latest.PendingNodes,
		Pause:        latest.Pause,
	})
}
