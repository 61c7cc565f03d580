package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/hostwatchd/hostwatchd/pkg/config"
	"github.com/hostwatchd/hostwatchd/pkg/ledger"
	"github.com/hostwatchd/hostwatchd/pkg/monitor"
	"github.com/hostwatchd/hostwatchd/pkg/notify"
	"github.com/hostwatchd/hostwatchd/pkg/observability"
	"github.com/hostwatchd/hostwatchd/pkg/orchestrator"
	"github.com/hostwatchd/hostwatchd/pkg/probe"
	"github.com/hostwatchd/hostwatchd/pkg/remediation"
	"github.com/hostwatchd/hostwatchd/pkg/version"
)

const (
	exitOK          = orchestrator.ExitHealthy
	exitUnhealthy   = orchestrator.ExitUnhealthy
	exitCrashed     = orchestrator.ExitCrashed
	exitUsage       = 64
	exitConfigError = 65
)

func main() {
	exitCode := run(os.Args[1:])
	os.Exit(exitCode)
}

func run(args []string) int {
	return runWithWriters(args, os.Stdout, os.Stderr)
}

func runWithWriters(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return commandCheckWithWriters(args, stdout, stderr)
	}

	switch args[0] {
	case "check":
		return commandCheckWithWriters(args[1:], stdout, stderr)
	case "status":
		return commandStatusWithWriters(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.Get())
		return exitOK
	case "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: health-agent [command] [options]
Commands:
  check      Check disk space and service liveness once (default)
  status     Print outstanding alerts as YAML
  version    Print build version

Exit codes: 0 healthy, 1 problem detected, 2 agent crashed, 64 usage, 65 configuration.
Run "health-agent check -h" for the list of options.
`)
}

// loadConfig resolves configuration from the dotenv file, the environment
// and flags, in increasing order of precedence.
func loadConfig(name string, args []string, stderr io.Writer) (*config.Config, int) {
	if err := config.LoadDotenv(""); err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return nil, exitConfigError
	}
	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return nil, exitConfigError
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, exitOK
		}
		return nil, exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return nil, exitUsage
	}

	if err := cfg.Finalize(); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return nil, exitConfigError
	}
	return cfg, -1
}

func openLedger(cfg *config.Config) (ledger.Ledger, string, func(), error) {
	switch cfg.State.Backend {
	case config.BackendEtcd:
		tlsCfg, err := cfg.State.Etcd.TLS.ClientConfig()
		if err != nil {
			return nil, "", nil, err
		}
		store, err := ledger.NewEtcd(ledger.EtcdOptions{
			Endpoints:   cfg.State.Etcd.Endpoints,
			DialTimeout: cfg.State.Etcd.DialTimeout,
			Namespace:   cfg.State.Etcd.Namespace,
			Prefix:      cfg.State.Etcd.Prefix,
			TLS:         tlsCfg,
			NodeName:    cfg.NodeName,
			TTL:         cfg.State.Etcd.TTL,
		})
		if err != nil {
			return nil, "", nil, err
		}
		location := strings.Join(cfg.State.Etcd.Endpoints, ",")
		return store, location, func() { _ = store.Close() }, nil
	case config.BackendSQLite:
		dir := cfg.State.Dir
		if dir == "" {
			dir = os.TempDir()
		}
		store, err := ledger.NewSQLite(filepath.Join(dir, ledger.DefaultSQLiteName))
		if err != nil {
			return nil, "", nil, err
		}
		return store, store.Path(), func() { _ = store.Close() }, nil
	default:
		store, err := ledger.NewFile(cfg.State.Dir)
		if err != nil {
			return nil, "", nil, err
		}
		return store, store.Dir(), func() {}, nil
	}
}

func commandCheckWithWriters(args []string, stdout, stderr io.Writer) int {
	cfg, code := loadConfig("check", args, stderr)
	if cfg == nil {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewJSONLogger(stderr)
	level, _ := observability.ParseLevel(cfg.LogLevel)
	logger.SetMinLevel(level)
	collector := observability.NewPrometheusCollector()
	reporter := observability.NewStructuredReporter(cfg.NodeName, logger, collector)

	notifier, err := notify.New(notify.WebhookOptions{
		URL:      cfg.Notify.WebhookURL,
		Timeout:  cfg.Notify.Timeout,
		Reporter: reporter.ForComponent("notifier"),
	})
	if err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	crashOpts := []orchestrator.Option{
		orchestrator.WithNotifier(notifier),
		orchestrator.WithReporter(reporter),
		orchestrator.WithNodeName(cfg.NodeName),
	}

	store, _, closeLedger, err := openLedger(cfg)
	if err != nil {
		outcome := orchestrator.Crash(ctx, "ledger", fmt.Errorf("open alert ledger: %w", err), crashOpts...)
		writeMetrics(ctx, cfg, collector, reporter)
		return outcome.ExitCode()
	}
	defer closeLedger()

	diskMonitor, err := monitor.NewDiskMonitor(monitor.DiskOptions{
		Path:        cfg.Disk.Path,
		ThresholdGB: cfg.Disk.ThresholdGB,
		Prober:      probe.NewDiskStat(),
		Ledger:      store,
		Notifier:    notifier,
		Reporter:    reporter.ForComponent("disk"),
	})
	if err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	restartCmd := cfg.Service.RestartCommand
	if restartCmd != "" && cfg.Service.Name == "" {
		reporter.RecordEvent(ctx, observability.Event{
			Level:   observability.LevelWarn,
			Event:   "restart_ignored",
			Message: "restart command ignored: no service configured",
			Fields:  map[string]interface{}{"command": restartCmd},
		})
		restartCmd = ""
	}

	var runner remediation.Runner
	if restartCmd != "" {
		shell, err := remediation.NewShellRunner(cfg.Service.RestartTimeout,
			remediation.WithOutput(stderr, stderr),
			remediation.WithEnv(cfg.RemediationEnvironment()),
		)
		if err != nil {
			fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
			return exitConfigError
		}
		runner = shell
	}
	serviceMonitor, err := monitor.NewServiceMonitor(monitor.ServiceOptions{
		Service:        cfg.Service.Name,
		RestartCommand: restartCmd,
		RestartGrace:   cfg.Service.RestartGrace,
		Prober:         probe.NewProcessTable(),
		Runner:         runner,
		Ledger:         store,
		Notifier:       notifier,
		Reporter:       reporter.ForComponent("service"),
	})
	if err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	orch, err := orchestrator.NewRunner([]monitor.Monitor{diskMonitor, serviceMonitor}, crashOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialise agent: %v\n", err)
		return exitCrashed
	}

	outcome := orch.RunOnce(ctx)
	writeMetrics(ctx, cfg, collector, reporter)
	return outcome.ExitCode()
}

func writeMetrics(ctx context.Context, cfg *config.Config, collector *observability.PrometheusCollector, reporter observability.Reporter) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		reporter.RecordEvent(ctx, observability.Event{
			Level:   observability.LevelWarn,
			Event:   "metrics_write_failed",
			Message: "failed to write metrics textfile",
			Fields:  map[string]interface{}{"path": cfg.Metrics.Textfile, "error": err.Error()},
		})
	}
}

type statusReport struct {
	Node     string        `yaml:"node"`
	Backend  string        `yaml:"backend"`
	Location string        `yaml:"location"`
	Alerts   []statusAlert `yaml:"alerts"`
}

type statusAlert struct {
	ID        string `yaml:"id"`
	Condition string `yaml:"condition,omitempty"`
}

func commandStatusWithWriters(args []string, stdout, stderr io.Writer) int {
	cfg, code := loadConfig("status", args, stderr)
	if cfg == nil {
		return code
	}

	store, location, closeLedger, err := openLedger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open alert ledger: %v\n", err)
		return exitConfigError
	}
	defer closeLedger()

	lister, ok := store.(ledger.Lister)
	if !ok {
		fmt.Fprintf(stderr, "%s backend cannot list alerts\n", cfg.State.Backend)
		return exitConfigError
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.State.Etcd.DialTimeout)
	defer cancel()
	ids, err := lister.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "failed to list alerts: %v\n", err)
		return exitCrashed
	}

	report := statusReport{
		Node:     cfg.NodeName,
		Backend:  cfg.State.Backend,
		Location: location,
		Alerts:   make([]statusAlert, 0, len(ids)),
	}
	for _, id := range ids {
		report.Alerts = append(report.Alerts, statusAlert{ID: id, Condition: ledger.ConditionOf(id)})
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "failed to encode status: %v\n", err)
		return exitCrashed
	}
	if err := enc.Close(); err != nil {
		fmt.Fprintf(stderr, "failed to encode status: %v\n", err)
		return exitCrashed
	}
	if len(ids) > 0 {
		return exitUnhealthy
	}
	return exitOK
}
