package check

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/envhealthd/envhealthd/pkg/config"
)

// Priority determines a check's weight in the health score.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// Weight returns the scoring weight for the priority.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// ParsePriority converts a configuration string into a Priority.
func ParsePriority(raw string) (Priority, error) {
	switch raw {
	case "", string(PriorityMedium):
		return PriorityMedium, nil
	case string(PriorityCritical):
		return PriorityCritical, nil
	case string(PriorityHigh):
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unsupported priority %q", raw)
	}
}

// Status is the binary verdict of a single probe invocation.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Warning is a soft issue detected by a probe even when the subsystem is up.
type Warning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Outcome captures the result of one probe invocation.
type Outcome struct {
	Status   Status                 `json:"status"`
	Warnings []Warning              `json:"warnings,omitempty"`
	Duration time.Duration          `json:"duration_ns"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Probe assesses one subsystem. A returned error means the probe itself
// failed to produce a verdict; the engine converts it into an unhealthy
// outcome rather than propagating it.
type Probe interface {
	Probe(ctx context.Context) (Outcome, error)
}

// Definition is a registered health check, immutable for a run.
type Definition struct {
	Name      string
	Priority  Priority
	Timeout   time.Duration
	Retries   int
	DependsOn []string
	Probe     Probe
}

// NewFromConfig instantiates a check definition based on the provided configuration.
func NewFromConfig(cfg config.CheckConfig, baseEnv map[string]string) (Definition, error) {
	priority, err := ParsePriority(cfg.Priority)
	if err != nil {
		return Definition{}, err
	}

	def := Definition{
		Name:      cfg.Name,
		Priority:  priority,
		Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
		Retries:   cfg.Retries,
		DependsOn: append([]string(nil), cfg.DependsOn...),
	}

	switch cfg.Type {
	case "command":
		if len(cfg.Cmd) == 0 {
			return Definition{}, errors.New("command check requires cmd to be set")
		}
		def.Probe = &CommandProbe{
			command: append([]string(nil), cfg.Cmd...),
			env:     copyEnv(baseEnv),
		}
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return Definition{}, errors.New("file check requires path to be set")
		}
		def.Probe = &FileProbe{path: cfg.Path}
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return Definition{}, errors.New("http check requires url to be set")
		}
		def.Probe = &HTTPProbe{url: cfg.URL, client: http.DefaultClient}
	default:
		return Definition{}, fmt.Errorf("unsupported check type %q", cfg.Type)
	}

	return def, nil
}

// NewAll constructs a slice of check definitions from configuration.
func NewAll(cfgs []config.CheckConfig, baseEnv map[string]string) ([]Definition, error) {
	defs := make([]Definition, 0, len(cfgs))
	for _, cfg := range cfgs {
		def, err := NewFromConfig(cfg, baseEnv)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// CommandProbe shells out to an external tool. Exit code zero means healthy.
// The probe may additionally print a JSON report on stdout carrying an
// explicit status plus warnings and metadata; when present it refines the
// exit-code verdict.
type CommandProbe struct {
	command []string
	env     map[string]string
}

// NewCommandProbe constructs a probe for the provided argv.
func NewCommandProbe(command []string, env map[string]string) *CommandProbe {
	return &CommandProbe{command: append([]string(nil), command...), env: copyEnv(env)}
}

type probeReport struct {
	Status   string                 `json:"status"`
	Warnings []Warning              `json:"warnings"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Probe implements Probe.
func (p *CommandProbe) Probe(ctx context.Context) (Outcome, error) {
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Env = append(os.Environ(), formatEnv(p.env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Outcome{}, fmt.Errorf("run %s: %w", p.command[0], err)
		}
	}

	outcome := Outcome{
		Status:   StatusHealthy,
		Metadata: map[string]interface{}{"exit_code": exitCode},
	}
	if exitCode != 0 {
		outcome.Status = StatusUnhealthy
		outcome.Error = fmt.Sprintf("%s exited with code %d", p.command[0], exitCode)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			outcome.Error = fmt.Sprintf("%s: %s", outcome.Error, firstLine(msg))
		}
	}

	applyReport(&outcome, stdout.Bytes())
	return outcome, nil
}

// applyReport merges an optional JSON report emitted by the probe command.
func applyReport(outcome *Outcome, raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return
	}
	var report probeReport
	if err := json.Unmarshal(trimmed, &report); err != nil {
		return
	}
	switch report.Status {
	case string(StatusHealthy):
		outcome.Status = StatusHealthy
		outcome.Error = ""
	case string(StatusUnhealthy):
		outcome.Status = StatusUnhealthy
	}
	outcome.Warnings = append(outcome.Warnings, report.Warnings...)
	for k, v := range report.Metadata {
		if outcome.Metadata == nil {
			outcome.Metadata = make(map[string]interface{}, len(report.Metadata))
		}
		outcome.Metadata[k] = v
	}
}

// FileProbe reports healthy when the configured path exists.
type FileProbe struct {
	path string
}

// NewFileProbe constructs a probe for the provided path.
func NewFileProbe(path string) *FileProbe {
	return &FileProbe{path: path}
}

// Probe implements Probe.
func (p *FileProbe) Probe(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	default:
	}

	info, err := os.Stat(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Outcome{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("%s does not exist", p.path),
			}, nil
		}
		return Outcome{}, fmt.Errorf("stat %s: %w", p.path, err)
	}

	return Outcome{
		Status:   StatusHealthy,
		Metadata: map[string]interface{}{"path": p.path, "size_bytes": info.Size()},
	}, nil
}

// HTTPProbe reports healthy when a GET returns a 2xx status.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe constructs a probe for the provided URL.
func NewHTTPProbe(url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{url: url, client: client}
}

// Probe implements Probe.
func (p *HTTPProbe) Probe(ctx context.Context) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("build request for %s: %w", p.url, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	outcome := Outcome{
		Status:   StatusHealthy,
		Metadata: map[string]interface{}{"status_code": resp.StatusCode},
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome.Status = StatusUnhealthy
		outcome.Error = fmt.Sprintf("%s returned status %d", p.url, resp.StatusCode)
	}
	return outcome, nil
}

func copyEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	return copied
}

func formatEnv(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	formatted := make([]string, 0, len(values))
	for k, v := range values {
		formatted = append(formatted, fmt.Sprintf("%s=%s", k, v))
	}
	return formatted
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ Probe = (*CommandProbe)(nil)
var _ Probe = (*FileProbe)(nil)
var _ Probe = (*HTTPProbe)(nil)
