package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the sink for structured events. Implementations must be safe
// for concurrent use.
type Logger interface {
	Log(context.Context, Event) error
}

// LoggerFunc adapts a plain function into a Logger.
type LoggerFunc func(context.Context, Event) error

func (f LoggerFunc) Log(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// JSONLogger serialises every event as one JSON object per line, the
// format journald pipelines and log shippers consume.
type JSONLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewJSONLogger returns a logger writing newline-delimited JSON to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{w: w, now: time.Now}
}

// Log stamps the event when it carries no timestamp and writes it to the
// underlying writer under the logger's mutex.
func (l *JSONLogger) Log(_ context.Context, event Event) error {
	if l == nil || l.w == nil {
		return errors.New("json logger has no writer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	if err := json.NewEncoder(l.w).Encode(event); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}
