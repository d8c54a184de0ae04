package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stategraph-go/graph/emit"
	"github.com/dshills/stategraph-go/graph/store"
)

// RunConfig configures one invocation of a compiled graph.
type RunConfig struct {
	// ThreadID scopes the run's checkpoint chain. Invoking a thread
	// that has a paused checkpoint resumes it. Empty generates a fresh
	// id. Two callers must not invoke the same thread concurrently.
	ThreadID string

	// RecursionLimit overrides the graph's limit for this run when
	// positive.
	RecursionLimit int

	// ResumeFrom rewinds the run to a specific checkpoint id instead
	// of the thread's latest (time travel).
	ResumeFrom string

	// Metadata is passed through to nodes untouched.
	Metadata map[string]any
}

// NewRunConfig creates a config for the given thread.
func NewRunConfig(threadID string) RunConfig {
	return RunConfig{ThreadID: threadID}
}

// Invoke drives the graph from its entry set to completion, a pause,
// a failure, or the recursion limit.
//
// Outcomes:
//   - completed: the final merged state and a nil error
//   - interrupted: a nil state and an *InterruptError whose checkpoint
//     holds the resumable position (not a failure)
//   - failed: a nil state and a *NodeExecutionError or *RoutingError
//   - limit exceeded: a nil state and a *RecursionLimitError carrying
//     the state at truncation
//
// Invoking a thread whose latest checkpoint is paused resumes from the
// checkpoint's pending set rather than the beginning.
func (c *CompiledGraph) Invoke(ctx context.Context, input State, cfg RunConfig) (State, error) {
	r, err := c.newRun(ctx, input, cfg, nil)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx)
}

// run is the per-invocation scheduler state. It is single-threaded:
// only node execution inside a super-step fans out.
type run struct {
	graph   *CompiledGraph
	cfg     RunConfig
	limit   int
	state   State
	step    int // completed super-steps
	active  []string
	lastCP  string // id of the last persisted checkpoint
	resumed store.PauseKind
	observe observer
}

// observer receives the full event feed of a run; stream.go installs
// one that filters by mode. Nil for plain Invoke.
type observer func(StreamEvent)

func (r *run) notify(ev StreamEvent) {
	if r.observe != nil {
		r.observe(ev)
	}
}

// newRun initializes state and the active set, resuming from the
// thread's latest (or an explicit) checkpoint when one exists. The
// observer, when non-nil, sees every event including the initial
// checkpoint write.
func (c *CompiledGraph) newRun(ctx context.Context, input State, cfg RunConfig, observe observer) (*run, error) {
	if cfg.ThreadID == "" {
		cfg.ThreadID = uuid.NewString()
	}
	limit := c.recursionLimit
	if cfg.RecursionLimit > 0 {
		limit = cfg.RecursionLimit
	}

	r := &run{graph: c, cfg: cfg, limit: limit, observe: observe}

	var cp *store.Checkpoint
	if c.checkpointer != nil {
		var err error
		if cfg.ResumeFrom != "" {
			cp, err = c.checkpointer.LoadByID(ctx, cfg.ResumeFrom)
			if err != nil {
				return nil, err
			}
		} else {
			cp, err = c.checkpointer.Latest(ctx, cfg.ThreadID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
	}

	if cp != nil {
		restored, err := State(cp.State).Clone()
		if err != nil {
			return nil, err
		}
		r.state = restored
		r.step = cp.Step
		r.lastCP = cp.ID
		if len(cp.PendingNodes) > 0 {
			r.active = append([]string(nil), cp.PendingNodes...)
			r.resumed = cp.Pause
		} else {
			r.active = c.entryNodes()
		}
	} else {
		r.state = c.schema.Initialize()
		r.active = c.entryNodes()
	}

	for k, v := range input {
		c.schema.Apply(r.state, k, v)
	}
	c.sortByRegistration(r.active)

	// Fresh runs record the initialized input state as checkpoint 0 so
	// history covers the whole run.
	if cp == nil {
		if err := r.saveCheckpoint(ctx, 0, nil, store.PauseNone); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// loop executes super-steps until a terminal outcome. One iteration is
// one barrier: plan, execute all active nodes, drain, merge, persist,
// route.
func (r *run) loop(ctx context.Context) (State, error) {
	g := r.graph

	for {
		if len(r.active) == 0 {
			g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: r.step, Msg: emit.MsgRunCompleted})
			if g.metrics != nil {
				g.metrics.IncRunOutcome("completed")
			}
			r.notify(StreamEvent{Type: EventDone, Step: r.step, State: r.state})
			return r.state, nil
		}

		// The recursion limit is the safety valve for cycles that
		// never signal termination.
		if r.step+1 > r.limit {
			if g.metrics != nil {
				g.metrics.IncRunOutcome("limit_exceeded")
			}
			err := &RecursionLimitError{Limit: r.limit, Step: r.step, State: r.state}
			r.notify(StreamEvent{Type: EventError, Step: r.step, Err: err})
			return nil, err
		}

		// Cancellation is cooperative and observed only at step
		// boundaries; the previous step's checkpoint is already
		// durable.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := r.step + 1

		// Static pause before execution. The single resumed step is
		// exempt when the pause being resumed already passed this
		// check; every later visit pauses again.
		skipBefore := r.resumed == store.PauseBefore || r.resumed == store.PauseDynamic
		r.resumed = store.PauseNone
		if !skipBefore {
			for _, id := range r.active {
				if g.interruptBefore[id] {
					return nil, r.pause(ctx, step, id, NewInterrupt("interrupt before node "+id), r.active, store.PauseBefore)
				}
			}
		}

		outcomes, err := r.executeStep(ctx, step)
		if err != nil {
			return nil, err
		}

		// All in-flight work has drained; decide in registration
		// order. Errors win over interrupts.
		for _, oc := range outcomes {
			if oc.err != nil {
				if g.metrics != nil {
					g.metrics.IncRunOutcome("failed")
				}
				execErr := &NodeExecutionError{Node: oc.node, Step: step, Err: oc.err}
				g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, NodeID: oc.node,
					Msg: emit.MsgRunFailed, Meta: map[string]any{"error": oc.err.Error()}})
				r.notify(StreamEvent{Type: EventError, Step: step, Node: oc.node, Err: execErr})
				return nil, execErr
			}
		}
		for _, oc := range outcomes {
			if oc.out != nil && oc.out.Interrupt != nil {
				// The paused state carries updates from the nodes that
				// completed without interrupting; interrupting nodes
				// contribute nothing and re-run on resume.
				for _, other := range outcomes {
					if other.out == nil || other.out.Interrupt != nil {
						continue
					}
					r.mergeUpdates(other.out.Updates)
				}
				return nil, r.pause(ctx, step, oc.node, oc.out.Interrupt, r.active, store.PauseDynamic)
			}
		}

		// Merge in ascending registration order: deterministic and
		// reproducible regardless of completion order.
		stepUpdates := make(map[string]map[string]any, len(outcomes))
		for _, oc := range outcomes {
			if oc.out != nil && len(oc.out.Updates) > 0 {
				r.mergeUpdates(oc.out.Updates)
				stepUpdates[oc.node] = oc.out.Updates
			}
		}

		executed := r.active
		r.step = step
		if err := r.saveCheckpoint(ctx, step, nil, store.PauseNone); err != nil {
			r.notify(StreamEvent{Type: EventError, Step: step, Err: err})
			return nil, err
		}

		g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, Msg: emit.MsgStepComplete})
		if g.metrics != nil {
			g.metrics.IncSuperSteps()
		}
		r.notifyStepOutput(step, stepUpdates)

		// Routing sees only the post-merge state of the completed
		// step, never partial results.
		next, decisions, err := g.nextActive(executed, r.state, step)
		if err != nil {
			if g.metrics != nil {
				g.metrics.IncRunOutcome("failed")
			}
			g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, Msg: emit.MsgRunFailed,
				Meta: map[string]any{"error": err.Error()}})
			r.notify(StreamEvent{Type: EventError, Step: step, Err: err})
			return nil, err
		}
		for _, d := range decisions {
			g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, NodeID: d.source,
				Msg: emit.MsgRoutingDecision, Meta: map[string]any{"route_key": d.key, "target": d.target}})
			r.notify(StreamEvent{Type: EventRouting, Step: step, Node: d.source, RouteKey: d.key, Target: d.target})
		}

		// Static pause after a completed node. Pending is the resolved
		// next set so resumption does not re-execute the node.
		for _, id := range executed {
			if g.interruptAfter[id] {
				return nil, r.pause(ctx, step, id, NewInterrupt("interrupt after node "+id), next, store.PauseAfter)
			}
		}

		r.active = next
	}
}

// outcome is the uniform result of one node execution within a step.
type outcome struct {
	node string
	out  *NodeOutput
	err  error
}

// executeStep runs every active node concurrently against the same
// immutable snapshot and waits for all of them. Outcomes are returned
// in registration order.
func (r *run) executeStep(ctx context.Context, step int) ([]outcome, error) {
	g := r.graph
	outcomes := make([]outcome, len(r.active))

	if g.metrics != nil {
		g.metrics.AddInflight(len(r.active))
		defer g.metrics.SubInflight(len(r.active))
	}

	var wg sync.WaitGroup
	for i, name := range r.active {
		snapshot, err := r.state.Clone()
		if err != nil {
			return nil, &NodeExecutionError{Node: name, Step: step, Err: err}
		}
		node, ok := g.nodes[name]
		if !ok {
			// Unreachable for compiled graphs; pending sets from a
			// checkpoint of an older topology can get here.
			return nil, &NodeExecutionError{Node: name, Step: step, Err: errors.New("node not registered")}
		}

		g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, NodeID: name, Msg: emit.MsgNodeStart})
		r.notify(StreamEvent{Type: EventNodeStart, Step: step, Node: name})

		wg.Add(1)
		go func(i int, name string, node Node, snapshot State) {
			defer wg.Done()
			nc := &NodeContext{State: snapshot, ThreadID: r.cfg.ThreadID, Step: step, Metadata: r.cfg.Metadata}
			start := time.Now()
			out, err := node.Execute(ctx, nc)
			durMS := time.Since(start).Milliseconds()

			outcomes[i] = outcome{node: name, out: out, err: err}

			status := "success"
			switch {
			case err != nil:
				status = "error"
			case out != nil && out.Interrupt != nil:
				status = "interrupt"
			}
			if g.metrics != nil {
				g.metrics.ObserveNodeLatency(name, status, float64(durMS))
			}
			g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, NodeID: name,
				Msg: emit.MsgNodeEnd, Meta: map[string]any{"duration_ms": durMS, "status": status}})
		}(i, name, node, snapshot)
	}
	wg.Wait()

	for i := range outcomes {
		r.notify(StreamEvent{Type: EventNodeEnd, Step: step, Node: outcomes[i].node})
	}
	return outcomes, nil
}

// mergeUpdates folds one node's updates into the run state through the
// channel reducers.
func (r *run) mergeUpdates(updates map[string]any) {
	// Within one node's update set, apply keys in a stable order.
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		r.graph.schema.Apply(r.state, k, updates[k])
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// saveCheckpoint appends a snapshot to the thread's chain. Regular
// end-of-step checkpoints carry no pending nodes; pause checkpoints
// record the resumable active set and the pause kind. step is the
// number of completed super-steps at this position.
func (r *run) saveCheckpoint(ctx context.Context, step int, pending []string, pause store.PauseKind) error {
	g := r.graph
	if g.checkpointer == nil {
		return nil
	}

	stateCopy, err := r.state.Clone()
	if err != nil {
		return err
	}
	cp := &store.Checkpoint{
		ThreadID:     r.cfg.ThreadID,
		ParentID:     r.lastCP,
		Step:         step,
		State:        stateCopy,
		PendingNodes: pending,
		Pause:        pause,
	}

	start := time.Now()
	id, err := g.checkpointer.Save(ctx, cp)
	if err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.ObserveCheckpointSave(time.Since(start).Seconds())
	}
	r.lastCP = id

	g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: step, Msg: emit.MsgCheckpointSaved,
		Meta: map[string]any{"checkpoint_id": id}})
	r.notify(StreamEvent{Type: EventCheckpoint, Step: step, CheckpointID: id})
	return nil
}

// pause persists a resumable checkpoint and returns the InterruptError
// describing it. attemptedStep is the step at which the pause occurred;
// the checkpoint records the resume position (completed steps only).
func (r *run) pause(ctx context.Context, attemptedStep int, node string, intr *Interrupt, pending []string, kind store.PauseKind) error {
	g := r.graph

	resumeStep := attemptedStep - 1
	if kind == store.PauseAfter {
		resumeStep = attemptedStep
	}
	if err := r.saveCheckpoint(ctx, resumeStep, pending, kind); err != nil {
		r.notify(StreamEvent{Type: EventError, Step: attemptedStep, Err: err})
		return err
	}

	if g.metrics != nil {
		g.metrics.IncInterrupt(string(kind))
		g.metrics.IncRunOutcome("interrupted")
	}
	g.emit(emit.Event{ThreadID: r.cfg.ThreadID, Step: attemptedStep, NodeID: node,
		Msg: emit.MsgInterrupted, Meta: map[string]any{"reason": intr.Reason, "kind": string(kind)}})

	stateCopy, err := r.state.Clone()
	if err != nil {
		return err
	}
	intErr := &InterruptError{
		Reason:       intr.Reason,
		Payload:      intr.Payload,
		Node:         node,
		ThreadID:     r.cfg.ThreadID,
		Step:         attemptedStep,
		State:        stateCopy,
		CheckpointID: r.lastCP,
	}
	r.notify(StreamEvent{Type: EventInterrupted, Step: attemptedStep, Node: node, Interrupt: intr, CheckpointID: r.lastCP})
	return intErr
}

// notifyStepOutput feeds the per-step state/update events consumed by
// the streaming front-end.
func (r *run) notifyStepOutput(step int, updates map[string]map[string]any) {
	if r.observe == nil {
		return
	}
	stateCopy, err := r.state.Clone()
	if err != nil {
		return
	}
	r.notify(StreamEvent{Type: EventValues, Step: step, State: stateCopy})
	if len(updates) > 0 {
		r.notify(StreamEvent{Type: EventUpdates, Step: step, Updates: updates})
	}
	// Message events follow registration order, like merges.
	nodes := make([]string, 0, len(updates))
	for node := range updates {
		nodes = append(nodes, node)
	}
	r.graph.sortByRegistration(nodes)
	for _, node := range nodes {
		if msg, ok := updates[node][MessagesChannel]; ok {
			r.notify(StreamEvent{Type: EventMessage, Step: step, Node: node, Message: msg})
		}
	}
}
