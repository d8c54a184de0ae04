package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{
		ThreadID: "run-001",
		Step:     2,
		NodeID:   "summarizer",
		Msg:      MsgNodeEnd,
		Meta:     map[string]any{"duration_ms": int64(41)},
	})

	line := buf.String()
	for _, want := range []string{"[node_end]", "thread=run-001", "step=2", "node=summarizer", "duration_ms=41"} {
		if !strings.Contains(line, want) {
			t.Errorf("output %q missing %q", line, want)
		}
	}
}

func TestLogEmitterTextOmitsEmptyNode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{ThreadID: "run-001", Step: 3, Msg: MsgStepComplete})

	if strings.Contains(buf.String(), "node=") {
		t.Errorf("step-level event carries a node: %q", buf.String())
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(Event{
		ThreadID: "run-001",
		Step:     1,
		NodeID:   "planner",
		Msg:      MsgNodeStart,
		Meta:     map[string]any{"attempt": 1},
	})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded["thread_id"] != "run-001" || decoded["msg"] != MsgNodeStart {
		t.Errorf("decoded = %v", decoded)
	}
	meta, ok := decoded["meta"].(map[string]any)
	if !ok || meta["attempt"] != float64(1) {
		t.Errorf("meta = %v", decoded["meta"])
	}
}

func TestLogEmitterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 20; j++ {
				e.Emit(Event{ThreadID: "t", Step: j, Msg: MsgStepComplete})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 160 {
		t.Fatalf("got %d lines, want 160", len(lines))
	}
	for _, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("interleaved write produced invalid JSON: %q", line)
		}
	}
}

func TestNullEmitter(t *testing.T) {
	NewNullEmitter().Emit(Event{ThreadID: "x", Msg: MsgRunCompleted})
}
