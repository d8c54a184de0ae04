package graph

// Reserved pseudo-node ids. Start marks the entry of the graph and has
// no incoming edges; End marks completion and has no outgoing edges.
const (
	Start = "__start__"
	End   = "__end__"
)

// RouterFunc decides where a conditional edge goes. It is invoked with
// the post-merge state of the step that just completed and returns a
// key into the edge's target mapping (or End). Routers should be pure:
// they may run more than once for the same step in Debug streaming.
type RouterFunc func(state State) string

// edgeKind discriminates the edge variants.
type edgeKind int

const (
	edgeDirect edgeKind = iota
	edgeConditional
	edgeEntry
)

// edge is one registered transition. Direct edges are always taken
// after the source runs; conditional edges route through a router
// function and a finite key→target mapping; the entry edge lists the
// nodes activated from Start.
type edge struct {
	kind    edgeKind
	source  string
	target  string            // direct: node id or End
	router  RouterFunc        // conditional only
	targets map[string]string // conditional: router key -> node id or End
	entry   []string          // entry only
}

// RouteByField routes on a string-valued state channel; a missing or
// non-string value routes to End.
func RouteByField(field string) RouterFunc {
	return func(state State) string {
		if s, ok := state[field].(string); ok {
			return s
		}
		return End
	}
}

// RouteByBool routes to ifTrue when the boolean channel is true,
// otherwise to ifFalse. A missing value counts as false.
func RouteByBool(field, ifTrue, ifFalse string) RouterFunc {
	return func(state State) string {
		if b, _ := state[field].(bool); b {
			return ifTrue
		}
		return ifFalse
	}
}

// RouteMaxIterations keeps routing to continueKey until the counter
// channel reaches max, then routes to doneKey. Pair with a counter
// channel incremented by the looping node.
func RouteMaxIterations(counterField string, max int, continueKey, doneKey string) RouterFunc {
	return func(state State) string {
		if int(toFloat(state[counterField])) < max {
			return continueKey
		}
		return doneKey
	}
}

// RouteOnError routes to errKey when the error channel holds a
// non-nil value, otherwise to okKey.
func RouteOnError(errorField, errKey, okKey string) RouterFunc {
	return func(state State) string {
		if v, ok := state[errorField]; ok && v != nil {
			return errKey
		}
		return okKey
	}
}
