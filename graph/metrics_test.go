package graph

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectRunAndSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	g, err := NewStateGraph(NewSchema().CounterChannel("n")).
		AddNodeFunc("a", incrementFn("n")).
		AddNodeFunc("b", incrementFn("n")).
		AddEdge(Start, "a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	g.WithMetrics(m)

	if _, err := g.Invoke(context.Background(), State{}, NewRunConfig("m-run")); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.superSteps); got != 2 {
		t.Errorf("super steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.nodesInflight); got != 0 {
		t.Errorf("inflight after run = %v, want 0", got)
	}
}

func TestMetricsCountFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	g, err := NewStateGraph(nil).
		AddNodeFunc("boom", func(_ context.Context, _ *NodeContext) (*NodeOutput, error) {
			return nil, context.DeadlineExceeded
		}).
		AddEdge(Start, "boom").
		AddEdge("boom", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	g.WithMetrics(m)

	if _, err := g.Invoke(context.Background(), State{}, NewRunConfig("m-fail")); err == nil {
		t.Fatal("expected failure")
	}

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}
