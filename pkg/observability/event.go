package observability

import (
	"maps"
	"time"
)

// Level grades the severity of an emitted event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured log entry. Node identifies the machine the
// daemon runs on, Event is a stable machine-readable name, and Fields
// carries per-event metadata.
type Event struct {
	Timestamp time.Time              `json:"ts"`
	Level     Level                  `json:"level"`
	Node      string                 `json:"node,omitempty"`
	Component string                 `json:"component,omitempty"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Clone returns a copy whose Fields map is detached from the original, so
// observers can annotate their view without racing the emitter.
func (e Event) Clone() Event {
	clone := e
	clone.Fields = maps.Clone(e.Fields)
	return clone
}
