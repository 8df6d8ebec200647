package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/envhealthd/envhealthd/pkg/chaos"
	"github.com/envhealthd/envhealthd/pkg/check"
	"github.com/envhealthd/envhealthd/pkg/config"
	"github.com/envhealthd/envhealthd/pkg/cooldown"
	"github.com/envhealthd/envhealthd/pkg/fleet"
	"github.com/envhealthd/envhealthd/pkg/healing"
	"github.com/envhealthd/envhealthd/pkg/issue"
	"github.com/envhealthd/envhealthd/pkg/lock"
	"github.com/envhealthd/envhealthd/pkg/observability"
	"github.com/envhealthd/envhealthd/pkg/orchestrator"
	"github.com/envhealthd/envhealthd/pkg/version"
)

const (
	exitOK           = 0
	exitUsage        = 64
	exitConfigError  = 65
	exitCheckFailed  = 67
	exitRuntimeError = 70
)

// cooldownKey stores the shared healing cooldown window in etcd.
const cooldownKey = "/envhealthd/healing/cooldown"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "monitor":
		return commandMonitor(args[1:])
	case "check":
		return commandCheckWithWriters(args[1:], os.Stdout, os.Stderr)
	case "heal":
		return commandHealWithWriters(args[1:], os.Stdout, os.Stderr)
	case "chaos":
		return commandChaosWithWriters(args[1:], os.Stdout, os.Stderr)
	case "report":
		return commandReportWithWriters(args[1:], os.Stdout, os.Stderr)
	case "status":
		return commandStatusWithWriters(args[1:], os.Stdout, os.Stderr)
	case "validate-config":
		return commandValidateWithWriters(args[1:], os.Stdout, os.Stderr)
	case "version":
		fmt.Println(version.Version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: envhealthd <command> [options]
Commands:
  monitor            Run the continuous monitoring and healing daemon
  check              Run the health checks once and print the results
  heal               Run a single check-and-heal pass
  chaos              Run chaos tests at a given intensity level
  report             Print a JSON health report
  status             Show the health scores published by the fleet
  validate-config    Validate the configuration file
  version            Print build version
`)
}

// components bundles everything a command needs to drive an orchestration pass.
type components struct {
	cfg       *config.Config
	engine    *check.Engine
	runner    *orchestrator.Runner
	collector *observability.PrometheusCollector
	closers   []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func buildComponents(cfg *config.Config, stdout, stderr io.Writer, opts ...orchestrator.Option) (*components, error) {
	baseEnv := cfg.BaseEnvironment()

	defs, err := check.NewAll(cfg.Checks, baseEnv)
	if err != nil {
		return nil, fmt.Errorf("construct checks: %w", err)
	}
	engine, err := check.NewEngine(defs)
	if err != nil {
		return nil, fmt.Errorf("initialise check engine: %w", err)
	}

	actions, err := healing.NewActions(cfg.HealingActions)
	if err != nil {
		return nil, fmt.Errorf("construct healing actions: %w", err)
	}
	executor, err := healing.NewExecutor(actions, cfg.AutoFix,
		healing.WithRunner(healing.NewExecCommandRunner(stdout, stderr, baseEnv)))
	if err != nil {
		return nil, fmt.Errorf("initialise healing executor: %w", err)
	}

	tlsConfig, err := buildTLSConfig(cfg.EtcdTLS)
	if err != nil {
		return nil, fmt.Errorf("configure etcd TLS: %w", err)
	}

	comps := &components{cfg: cfg, engine: engine}
	comps.collector = observability.NewPrometheusCollector()
	reporter := orchestrator.NewStructuredReporter(cfg.NodeName, observability.NewJSONLogger(stderr), comps.collector)

	var locker lock.Manager = lock.NewNoopManager()
	if cfg.Healing.Lock.Enabled {
		etcdLock, err := lock.NewEtcdManager(lock.EtcdManagerOptions{
			Endpoints: cfg.EtcdEndpoints,
			LockKey:   cfg.Healing.Lock.Key,
			Namespace: cfg.EtcdNamespace,
			TTL:       cfg.LockTTL(),
			TLS:       tlsConfig,
		})
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("initialise healing lock: %w", err)
		}
		locker = etcdLock
		comps.closers = append(comps.closers, etcdLock)
	} else {
		opts = append(opts, orchestrator.WithLockAcquisition(false, "healing lock disabled in configuration"))
	}

	state := orchestrator.NewEnvironmentState(time.Now())
	opts = append(opts, orchestrator.WithReporter(reporter))
	runner, err := orchestrator.NewRunner(cfg, engine, executor, locker, state, opts...)
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("initialise runner: %w", err)
	}
	comps.runner = runner

	if cfg.Healing.CooldownSec > 0 && len(cfg.EtcdEndpoints) > 0 {
		cooldowns, err := cooldown.NewEtcdManager(cooldown.EtcdManagerOptions{
			Endpoints: cfg.EtcdEndpoints,
			Namespace: cfg.EtcdNamespace,
			Key:       cooldownKey,
			TLS:       tlsConfig,
			NodeName:  cfg.NodeName,
		})
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("initialise healing cooldown: %w", err)
		}
		runner.SetCooldownManager(cooldowns)
		comps.closers = append(comps.closers, cooldowns)
	}

	if cfg.Fleet.Enabled {
		fleets, err := fleet.NewEtcdManager(fleet.EtcdManagerOptions{
			Endpoints: cfg.EtcdEndpoints,
			Namespace: cfg.EtcdNamespace,
			Prefix:    cfg.Fleet.Prefix,
			TLS:       tlsConfig,
			NodeName:  cfg.NodeName,
		})
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("initialise fleet manager: %w", err)
		}
		runner.SetFleetManager(fleets)
		comps.closers = append(comps.closers, fleets)
	}

	if len(cfg.ChaosTests) > 0 {
		tests, err := chaos.NewTests(cfg.ChaosTests)
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("construct chaos tests: %w", err)
		}
		harness, err := chaos.NewHarness(tests, healing.NewExecCommandRunner(stdout, stderr, baseEnv), engine, cfg.SettleInterval())
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("initialise chaos harness: %w", err)
		}
		runner.SetChaosHarness(harness)
	}

	return comps, nil
}

func buildTLSConfig(cfg *config.EtcdTLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	caData, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            pool,
		InsecureSkipVerify: cfg.Insecure,
		MinVersion:         tls.VersionTLS12,
	}, nil
}

func commandMonitor(args []string) int {
	return commandMonitorWithWriters(args, os.Stdout, os.Stderr)
}

func commandMonitorWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	once := fs.Bool("once", false, "run a single pass and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	comps, err := buildComponents(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfigError
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		outcome, err := comps.runner.RunOnce(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "monitoring pass failed: %v\n", err)
			return exitRuntimeError
		}
		printOutcome(stdout, outcome)
		return exitOK
	}

	loop, err := orchestrator.NewLoop(cfg, comps.runner,
		orchestrator.WithLoopErrorHandler(func(err error) {
			fmt.Fprintf(stderr, "monitoring pass failed: %v\n", err)
		}))
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialise loop: %v\n", err)
		return exitConfigError
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(groupCtx)
	})

	if cfg.Fleet.Enabled {
		publisher, err := orchestrator.NewFleetPublisher(comps.runner, cfg.FleetPublishInterval(),
			orchestrator.WithFleetPublisherErrorHandler(func(err error) {
				fmt.Fprintf(stderr, "fleet publication failed: %v\n", err)
			}))
		if err != nil {
			fmt.Fprintf(stderr, "failed to initialise fleet publisher: %v\n", err)
			return exitConfigError
		}
		group.Go(func() error {
			return publisher.Run(groupCtx)
		})
	}

	if cfg.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.Metrics.Listen, comps.collector)
		})
	}

	fmt.Fprintf(stdout, "envhealthd %s monitoring node %s every %s\n", version.Version, cfg.NodeName, cfg.CheckInterval())

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "daemon stopped: %v\n", err)
		return exitRuntimeError
	}
	return exitOK
}

func serveMetrics(ctx context.Context, listen string, collector *observability.PrometheusCollector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

func commandCheckWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	target := fs.String("target", check.TargetAll, "check name to run, or \"all\"")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	comps, err := buildComponents(cfg, stdout, io.Discard)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfigError
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := comps.engine.Run(ctx, *target)
	if err != nil {
		fmt.Fprintf(stderr, "check run failed: %v\n", err)
		return exitRuntimeError
	}
	if results == nil && *target != check.TargetAll {
		fmt.Fprintf(stderr, "check %q is not registered\n", *target)
		return exitUsage
	}

	issues := issue.Derive(results, time.Now())
	score := issue.Score(comps.engine.Definitions(), results)

	fmt.Fprintf(stdout, "node %s health score: %d/100\n", cfg.NodeName, score)
	for _, result := range results {
		status := string(result.Outcome.Status)
		if result.Outcome.Error != "" {
			status = fmt.Sprintf("%s (%s)", status, result.Outcome.Error)
		}
		fmt.Fprintf(stdout, "  - %s [%s] => %s in %s (%d attempt(s))\n",
			result.Name, result.Priority, status, result.Outcome.Duration.Round(time.Millisecond), result.Attempts)
		for _, warning := range result.Outcome.Warnings {
			fmt.Fprintf(stdout, "      warning %s: %s\n", warning.Type, warning.Message)
		}
	}
	if len(issues) > 0 {
		fmt.Fprintf(stdout, "issues detected:\n")
		for _, is := range issues {
			fmt.Fprintf(stdout, "  - %s [%s] %s\n", is.Type, is.Severity, is.Message)
		}
		return exitCheckFailed
	}

	fmt.Fprintln(stdout, "all checks passed")
	return exitOK
}

func commandHealWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("heal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	target := fs.String("target", check.TargetAll, "check name to run, or \"all\"")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	// An explicit heal request overrides the configured auto_fix gate.
	cfg.AutoFix = true

	comps, err := buildComponents(cfg, stdout, stderr, orchestrator.WithTarget(*target))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfigError
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := comps.runner.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "healing pass failed: %v\n", err)
		return exitRuntimeError
	}
	printOutcome(stdout, outcome)
	if outcome.Status == orchestrator.OutcomeHealingFailed {
		return exitCheckFailed
	}
	return exitOK
}

func printOutcome(w io.Writer, outcome orchestrator.Outcome) {
	fmt.Fprintf(w, "outcome: %s\n", outcome.Status)
	if outcome.Message != "" {
		fmt.Fprintf(w, "  %s\n", outcome.Message)
	}
	fmt.Fprintf(w, "  score: %d/100, issues: %d\n", outcome.Score, len(outcome.Issues))
	if outcome.Healing != nil {
		fmt.Fprintf(w, "  healing: %d attempted, %d successful, %d failed, %d skipped\n",
			outcome.Healing.Attempted, outcome.Healing.Successful, outcome.Healing.Failed, len(outcome.Healing.Skipped))
	}
}

func commandChaosWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chaos", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	levelFlag := fs.String("level", string(chaos.LevelLow), "intensity level: low, medium, or high")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	level, err := chaos.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	if len(cfg.ChaosTests) == 0 {
		fmt.Fprintln(stderr, "no chaos tests configured")
		return exitConfigError
	}

	comps, err := buildComponents(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfigError
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := comps.runner.RunChaos(ctx, level)
	if err != nil {
		fmt.Fprintf(stderr, "chaos run failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Fprintf(stdout, "chaos level %s: %d run, %d passed, %d failed\n", report.Level, report.TestsRun, report.Passed, report.Failed)
	for _, result := range report.Details {
		verdict := "passed"
		if !result.Passed {
			verdict = "failed"
		}
		fmt.Fprintf(stdout, "  - %s => %s (recovered=%v, duration %s)\n",
			result.Name, verdict, result.Recovered, result.Duration.Round(time.Millisecond))
		if result.InjectError != "" {
			fmt.Fprintf(stdout, "      inject error: %s\n", result.InjectError)
		}
		if result.RollbackError != "" {
			fmt.Fprintf(stdout, "      rollback error: %s\n", result.RollbackError)
		}
	}

	if report.Failed > 0 {
		return exitCheckFailed
	}
	return exitOK
}

// healthReport is the JSON document emitted by the report command.
type healthReport struct {
	Node      string         `json:"node"`
	Timestamp time.Time      `json:"timestamp"`
	Score     int            `json:"score"`
	Healthy   bool           `json:"healthy"`
	Results   []check.Result `json:"results"`
	Issues    []issue.Issue  `json:"issues,omitempty"`
}

func commandReportWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	comps, err := buildComponents(cfg, io.Discard, io.Discard)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfigError
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := comps.engine.Run(ctx, check.TargetAll)
	if err != nil {
		fmt.Fprintf(stderr, "check run failed: %v\n", err)
		return exitRuntimeError
	}

	now := time.Now()
	issues := issue.Derive(results, now)
	report := healthReport{
		Node:      cfg.NodeName,
		Timestamp: now,
		Score:     issue.Score(comps.engine.Definitions(), results),
		Healthy:   len(issues) == 0,
		Results:   results,
		Issues:    issues,
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		fmt.Fprintf(stderr, "failed to encode report: %v\n", err)
		return exitRuntimeError
	}
	return exitOK
}

func commandStatusWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	if len(cfg.EtcdEndpoints) == 0 {
		fmt.Fprintln(stderr, "status requires etcd_endpoints to be configured")
		return exitConfigError
	}

	tlsConfig, err := buildTLSConfig(cfg.EtcdTLS)
	if err != nil {
		fmt.Fprintf(stderr, "configure etcd TLS: %v\n", err)
		return exitConfigError
	}

	fleets, err := fleet.NewEtcdManager(fleet.EtcdManagerOptions{
		Endpoints: cfg.EtcdEndpoints,
		Namespace: cfg.EtcdNamespace,
		Prefix:    cfg.Fleet.Prefix,
		TLS:       tlsConfig,
		NodeName:  cfg.NodeName,
	})
	if err != nil {
		fmt.Fprintf(stderr, "initialise fleet manager: %v\n", err)
		return exitConfigError
	}
	defer fleets.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := fleets.Status(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "query fleet status: %v\n", err)
		return exitRuntimeError
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no fleet health records published")
		return exitOK
	}

	for _, record := range records {
		marker := "healthy"
		if !record.Healthy {
			marker = fmt.Sprintf("unhealthy, %d issue(s)", record.Issues)
		}
		fmt.Fprintf(stdout, "%-20s score %3d/100 (%s, reported %s)\n",
			record.Node, record.Score, marker, record.ReportedAt.Format(time.RFC3339))
	}
	return exitOK
}

func commandValidateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	if _, err := check.NewAll(cfg.Checks, cfg.BaseEnvironment()); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}
	if _, err := healing.NewActions(cfg.HealingActions); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}
	if _, err := chaos.NewTests(cfg.ChaosTests); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	summary := []string{
		fmt.Sprintf("%d check(s)", len(cfg.Checks)),
		fmt.Sprintf("%d healing action(s)", len(cfg.HealingActions)),
		fmt.Sprintf("%d chaos test(s)", len(cfg.ChaosTests)),
	}
	fmt.Fprintf(stdout, "configuration at %s is valid: %s\n", *configPath, strings.Join(summary, ", "))
	return exitOK
}
