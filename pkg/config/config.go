package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/envhealthd/config.yaml"

// Priorities accepted for a check definition.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
)

// Config represents the runtime configuration for the environment health daemon.
type Config struct {
	NodeName          string                `yaml:"node_name"`
	Checks            []CheckConfig         `yaml:"checks"`
	HealingActions    []HealingActionConfig `yaml:"healing_actions"`
	ChaosTests        []ChaosTestConfig     `yaml:"chaos_tests"`
	AutoFix           bool                  `yaml:"auto_fix"`
	CheckIntervalSec  int                   `yaml:"check_interval_sec"`
	SettleIntervalSec int                   `yaml:"settle_interval_sec"`
	KillSwitchFile    string                `yaml:"kill_switch_file"`
	Healing           HealingConfig         `yaml:"healing"`
	EtcdEndpoints     []string              `yaml:"etcd_endpoints"`
	EtcdNamespace     string                `yaml:"etcd_namespace"`
	EtcdTLS           *EtcdTLSConfig        `yaml:"etcd_tls"`
	Fleet             FleetConfig           `yaml:"fleet"`
	Metrics           MetricsConfig         `yaml:"metrics"`
}

// CheckConfig describes a single subsystem health check.
type CheckConfig struct {
	Name       string   `yaml:"name"`
	Priority   string   `yaml:"priority"`
	Type       string   `yaml:"type"`
	Cmd        []string `yaml:"cmd"`
	Path       string   `yaml:"path"`
	URL        string   `yaml:"url"`
	TimeoutSec int      `yaml:"timeout_sec"`
	Retries    int      `yaml:"retries"`
	DependsOn  []string `yaml:"depends_on"`
}

// HealingActionConfig maps an issue type to a remediation command.
type HealingActionConfig struct {
	IssueType            string   `yaml:"issue_type"`
	Description          string   `yaml:"description"`
	RiskLevel            string   `yaml:"risk_level"`
	EstimatedDurationSec int      `yaml:"estimated_duration_sec"`
	Cmd                  []string `yaml:"cmd"`
	TimeoutSec           int      `yaml:"timeout_sec"`
}

// ChaosTestConfig describes a deliberate fault injection with a mandatory rollback.
type ChaosTestConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	RiskLevel   string   `yaml:"risk_level"`
	InjectCmd   []string `yaml:"inject_cmd"`
	RollbackCmd []string `yaml:"rollback_cmd"`
	TimeoutSec  int      `yaml:"timeout_sec"`
}

// HealingConfig captures the guard rails applied before remediations execute.
type HealingConfig struct {
	Windows     WindowsConfig `yaml:"windows"`
	CooldownSec int           `yaml:"cooldown_sec"`
	Lock        LockConfig    `yaml:"lock"`
}

// WindowsConfig enumerates optional allow/deny healing windows.
type WindowsConfig struct {
	Deny  []string `yaml:"deny"`
	Allow []string `yaml:"allow"`
}

// LockConfig configures the distributed healing lock.
type LockConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Key           string `yaml:"key"`
	TTLSec        int    `yaml:"ttl_sec"`
	BackoffMinSec int    `yaml:"backoff_min_sec"`
	BackoffMaxSec int    `yaml:"backoff_max_sec"`
}

// EtcdTLSConfig configures optional TLS settings for connecting to etcd.
type EtcdTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure_skip_verify"`
}

// FleetConfig controls publication of this node's score to the shared registry.
type FleetConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Prefix             string `yaml:"prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.NodeName) == "" {
		problems = append(problems, "node_name is required")
	}
	if len(c.Checks) == 0 {
		problems = append(problems, "at least one check must be configured")
	}
	seenChecks := make(map[string]struct{}, len(c.Checks))
	for i := range c.Checks {
		for _, p := range c.Checks[i].validate() {
			problems = append(problems, fmt.Sprintf("check[%d]: %s", i, p))
		}
		name := strings.TrimSpace(c.Checks[i].Name)
		if name == "" {
			continue
		}
		if _, ok := seenChecks[name]; ok {
			problems = append(problems, fmt.Sprintf("check[%d]: duplicate name %q", i, name))
		}
		seenChecks[name] = struct{}{}
	}

	seenActions := make(map[string]struct{}, len(c.HealingActions))
	for i := range c.HealingActions {
		for _, p := range c.HealingActions[i].validate() {
			problems = append(problems, fmt.Sprintf("healing_action[%d]: %s", i, p))
		}
		issueType := strings.TrimSpace(c.HealingActions[i].IssueType)
		if issueType == "" {
			continue
		}
		if _, ok := seenActions[issueType]; ok {
			problems = append(problems, fmt.Sprintf("healing_action[%d]: duplicate issue_type %q", i, issueType))
		}
		seenActions[issueType] = struct{}{}
	}

	seenChaos := make(map[string]struct{}, len(c.ChaosTests))
	for i := range c.ChaosTests {
		for _, p := range c.ChaosTests[i].validate() {
			problems = append(problems, fmt.Sprintf("chaos_test[%d]: %s", i, p))
		}
		name := strings.TrimSpace(c.ChaosTests[i].Name)
		if name == "" {
			continue
		}
		if _, ok := seenChaos[name]; ok {
			problems = append(problems, fmt.Sprintf("chaos_test[%d]: duplicate name %q", i, name))
		}
		seenChaos[name] = struct{}{}
	}

	if c.CheckIntervalSec <= 0 {
		problems = append(problems, "check_interval_sec must be greater than zero")
	}
	if c.SettleIntervalSec <= 0 {
		problems = append(problems, "settle_interval_sec must be greater than zero")
	}
	if c.Healing.CooldownSec < 0 {
		problems = append(problems, "healing.cooldown_sec must be non-negative")
	}
	if c.Healing.Lock.Enabled {
		if strings.TrimSpace(c.Healing.Lock.Key) == "" {
			problems = append(problems, "healing.lock.key is required when the lock is enabled")
		}
		if c.Healing.Lock.TTLSec <= 0 {
			problems = append(problems, "healing.lock.ttl_sec must be greater than zero")
		}
		if len(c.EtcdEndpoints) == 0 {
			problems = append(problems, "etcd_endpoints must contain at least one endpoint when healing.lock.enabled is true")
		}
	}
	if c.Healing.Lock.BackoffMinSec <= 0 {
		problems = append(problems, "healing.lock.backoff_min_sec must be greater than zero")
	}
	if c.Healing.Lock.BackoffMaxSec < c.Healing.Lock.BackoffMinSec {
		problems = append(problems, "healing.lock.backoff_max_sec must be greater than or equal to backoff_min_sec")
	}
	if c.Healing.CooldownSec > 0 && len(c.EtcdEndpoints) == 0 {
		problems = append(problems, "etcd_endpoints must contain at least one endpoint when healing.cooldown_sec is set")
	}
	if c.Fleet.Enabled {
		if len(c.EtcdEndpoints) == 0 {
			problems = append(problems, "etcd_endpoints must contain at least one endpoint when fleet.enabled is true")
		}
		if c.Fleet.PublishIntervalSec <= 0 {
			problems = append(problems, "fleet.publish_interval_sec must be greater than zero")
		}
	}
	if c.EtcdTLS != nil && c.EtcdTLS.Enabled {
		if strings.TrimSpace(c.EtcdTLS.CAFile) == "" {
			problems = append(problems, "etcd_tls.ca_file is required when TLS is enabled")
		}
		if strings.TrimSpace(c.EtcdTLS.CertFile) == "" {
			problems = append(problems, "etcd_tls.cert_file is required when TLS is enabled")
		}
		if strings.TrimSpace(c.EtcdTLS.KeyFile) == "" {
			problems = append(problems, "etcd_tls.key_file is required when TLS is enabled")
		}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CheckIntervalSec == 0 {
		c.CheckIntervalSec = 30
	}
	if c.SettleIntervalSec == 0 {
		c.SettleIntervalSec = 10
	}
	if c.KillSwitchFile == "" {
		c.KillSwitchFile = "/etc/envhealthd/disable"
	}
	if strings.TrimSpace(c.Healing.Lock.Key) == "" {
		c.Healing.Lock.Key = "/envhealthd/healing/lock"
	}
	if c.Healing.Lock.TTLSec == 0 {
		c.Healing.Lock.TTLSec = 60
	}
	if c.Healing.Lock.BackoffMinSec == 0 {
		c.Healing.Lock.BackoffMinSec = 1
	}
	if c.Healing.Lock.BackoffMaxSec == 0 {
		c.Healing.Lock.BackoffMaxSec = 15
	}
	if strings.TrimSpace(c.Fleet.Prefix) == "" {
		c.Fleet.Prefix = "fleet_health"
	}
	if c.Fleet.PublishIntervalSec == 0 {
		c.Fleet.PublishIntervalSec = 15
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9102"
	}
	for i := range c.Checks {
		c.Checks[i].applyDefaults(i)
	}
}

// BaseEnvironment returns the static environment variables injected into
// command probes and remediation commands.
func (c *Config) BaseEnvironment() map[string]string {
	env := map[string]string{
		"EH_NODE_NAME": c.NodeName,
		"EH_AUTO_FIX":  strconv.FormatBool(c.AutoFix),
	}
	if strings.TrimSpace(c.KillSwitchFile) != "" {
		env["EH_KILL_SWITCH_FILE"] = c.KillSwitchFile
	}
	if len(c.EtcdEndpoints) > 0 {
		env["EH_ETCD_ENDPOINTS"] = strings.Join(c.EtcdEndpoints, ",")
	}
	return env
}

func (ch *CheckConfig) applyDefaults(index int) {
	if strings.TrimSpace(ch.Priority) == "" {
		ch.Priority = PriorityMedium
	}
	if ch.TimeoutSec == 0 {
		ch.TimeoutSec = 10
	}
	if strings.TrimSpace(ch.Name) != "" {
		return
	}
	switch ch.Type {
	case "command":
		if len(ch.Cmd) > 0 {
			ch.Name = fmt.Sprintf("command:%s", ch.Cmd[0])
		} else {
			ch.Name = fmt.Sprintf("command-check-%d", index)
		}
	case "file":
		if ch.Path != "" {
			ch.Name = fmt.Sprintf("file:%s", ch.Path)
		} else {
			ch.Name = fmt.Sprintf("file-check-%d", index)
		}
	case "http":
		if ch.URL != "" {
			ch.Name = fmt.Sprintf("http:%s", ch.URL)
		} else {
			ch.Name = fmt.Sprintf("http-check-%d", index)
		}
	default:
		ch.Name = fmt.Sprintf("check-%d", index)
	}
}

func (ch CheckConfig) validate() []string {
	problems := make([]string, 0)
	if strings.TrimSpace(ch.Type) == "" {
		problems = append(problems, "type is required")
		return problems
	}
	switch ch.Type {
	case "command":
		if len(ch.Cmd) == 0 {
			problems = append(problems, "cmd must contain at least one element for command checks")
		}
	case "file":
		if strings.TrimSpace(ch.Path) == "" {
			problems = append(problems, "path is required for file checks")
		}
	case "http":
		if strings.TrimSpace(ch.URL) == "" {
			problems = append(problems, "url is required for http checks")
		}
	default:
		problems = append(problems, fmt.Sprintf("type %q is not supported", ch.Type))
	}
	switch ch.Priority {
	case "", PriorityCritical, PriorityHigh, PriorityMedium:
	default:
		problems = append(problems, fmt.Sprintf("priority %q is not supported", ch.Priority))
	}
	if ch.TimeoutSec < 0 {
		problems = append(problems, "timeout_sec must be non-negative")
	}
	if ch.Retries < 0 {
		problems = append(problems, "retries must be non-negative")
	}
	return problems
}

func (a HealingActionConfig) validate() []string {
	problems := make([]string, 0)
	if strings.TrimSpace(a.IssueType) == "" {
		problems = append(problems, "issue_type is required")
	}
	if len(a.Cmd) == 0 {
		problems = append(problems, "cmd must contain at least one element")
	}
	if a.TimeoutSec < 0 {
		problems = append(problems, "timeout_sec must be non-negative")
	}
	if a.EstimatedDurationSec < 0 {
		problems = append(problems, "estimated_duration_sec must be non-negative")
	}
	return problems
}

func (ct ChaosTestConfig) validate() []string {
	problems := make([]string, 0)
	if strings.TrimSpace(ct.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(ct.InjectCmd) == 0 {
		problems = append(problems, "inject_cmd must contain at least one element")
	}
	if len(ct.RollbackCmd) == 0 {
		problems = append(problems, "rollback_cmd must contain at least one element")
	}
	if ct.TimeoutSec < 0 {
		problems = append(problems, "timeout_sec must be non-negative")
	}
	return problems
}

// CheckInterval returns how long the monitor waits between orchestration passes.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// SettleInterval returns how long the chaos harness waits after an injection
// before re-running the checks.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.SettleIntervalSec) * time.Second
}

// LockTTL returns the healing lock TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Healing.Lock.TTLSec) * time.Second
}

// LockBackoffBounds returns the lock acquisition backoff window as durations.
func (c *Config) LockBackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Healing.Lock.BackoffMinSec) * time.Second,
		time.Duration(c.Healing.Lock.BackoffMaxSec) * time.Second
}

// HealingCooldown returns the configured minimum spacing between healing rounds.
func (c *Config) HealingCooldown() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.Healing.CooldownSec) * time.Second
}

// FleetPublishInterval returns how often the daemon refreshes its fleet record.
func (c *Config) FleetPublishInterval() time.Duration {
	return time.Duration(c.Fleet.PublishIntervalSec) * time.Second
}
