package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, either as human-readable
// key=value lines or as one JSON object per line.
//
// Example text output:
//
//	[node_end] thread=run-001 step=2 node=summarizer duration_ms=41
//
// Example JSON output:
//
//	{"thread_id":"run-001","step":2,"node_id":"summarizer","msg":"node_end","meta":{"duration_ms":41}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to
// os.Stdout; jsonMode switches to JSON-lines output.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event. Write errors are swallowed; logging must not
// disturb execution.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		payload := map[string]any{
			"thread_id": event.ThreadID,
			"step":      event.Step,
			"node_id":   event.NodeID,
			"msg":       event.Msg,
		}
		if len(event.Meta) > 0 {
			payload["meta"] = event.Meta
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_, _ = l.writer.Write(append(data, '\n'))
		return
	}

	line := fmt.Sprintf("[%s] thread=%s step=%d", event.Msg, event.ThreadID, event.Step)
	if event.NodeID != "" {
		line += " node=" + event.NodeID
	}
	for k, v := range event.Meta {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	_, _ = fmt.Fprintln(l.writer, line)
}
