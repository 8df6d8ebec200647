package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerEmitsOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)
	logger.now = func() time.Time { return time.Unix(100, 0).UTC() }

	events := []Event{
		{Level: LevelInfo, Node: "dev-01", Event: "checks_executed", Fields: map[string]interface{}{"target": "all"}},
		{Level: LevelWarn, Node: "dev-01", Event: "healing_skipped"},
	}
	for _, event := range events {
		if err := logger.Log(context.Background(), event); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Timestamp.Unix() != 100 {
		t.Fatalf("expected logger to stamp the event, got %v", first.Timestamp)
	}
	if first.Event != "checks_executed" || first.Fields["target"] != "all" {
		t.Fatalf("unexpected payload: %+v", first)
	}
}

func TestJSONLoggerKeepsExplicitTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)

	stamped := time.Unix(42, 0).UTC()
	if err := logger.Log(context.Background(), Event{Event: "test", Timestamp: stamped}); err != nil {
		t.Fatalf("log event: %v", err)
	}

	var payload Event
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !payload.Timestamp.Equal(stamped) {
		t.Fatalf("expected timestamp %v preserved, got %v", stamped, payload.Timestamp)
	}
}

func TestJSONLoggerRequiresWriter(t *testing.T) {
	logger := NewJSONLogger(nil)
	if err := logger.Log(context.Background(), Event{Event: "test"}); err == nil {
		t.Fatal("expected error when writer is nil")
	}
}

func TestEventCloneDetachesFields(t *testing.T) {
	event := Event{
		Event:  "healing_executed",
		Fields: map[string]interface{}{"attempted": 2},
	}
	clone := event.Clone()
	clone.Fields["attempted"] = 5

	if event.Fields["attempted"] != 2 {
		t.Fatalf("expected original fields untouched, got %v", event.Fields)
	}
	if clone.Fields["attempted"] != 5 {
		t.Fatalf("expected clone to carry its own fields, got %v", clone.Fields)
	}
}
