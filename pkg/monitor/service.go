package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostwatchd/hostwatchd/pkg/ledger"
	"github.com/hostwatchd/hostwatchd/pkg/notify"
	"github.com/hostwatchd/hostwatchd/pkg/observability"
	"github.com/hostwatchd/hostwatchd/pkg/probe"
	"github.com/hostwatchd/hostwatchd/pkg/remediation"
)

// ServiceOptions configures a ServiceMonitor. An empty Service disables the
// monitor; an empty RestartCommand disables remediation.
type ServiceOptions struct {
	Service        string
	RestartCommand string
	// RestartGrace is waited between a successful restart command and the re-probe.
	RestartGrace time.Duration
	Prober       probe.ProcessProber
	Runner       remediation.Runner
	Ledger       ledger.Ledger
	Notifier     notify.Notifier
	Reporter     observability.Reporter
	Sleep        func(time.Duration)
}

// ServiceMonitor alerts when no process matches the service pattern and
// optionally runs a restart command.
type ServiceMonitor struct {
	service     string
	restartCmd  string
	grace       time.Duration
	conditionID string
	prober      probe.ProcessProber
	runner      remediation.Runner
	ledger      ledger.Ledger
	notifier    notify.Notifier
	reporter    observability.Reporter
	sleep       func(time.Duration)
}

// NewServiceMonitor validates opts and builds a ServiceMonitor.
func NewServiceMonitor(opts ServiceOptions) (*ServiceMonitor, error) {
	service := strings.TrimSpace(opts.Service)
	restartCmd := strings.TrimSpace(opts.RestartCommand)
	if opts.RestartGrace < 0 {
		return nil, errors.New("restart grace must not be negative")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Disabled{}
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = observability.NoopReporter{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	m := &ServiceMonitor{
		service:    service,
		restartCmd: restartCmd,
		grace:      opts.RestartGrace,
		prober:     opts.Prober,
		runner:     opts.Runner,
		ledger:     opts.Ledger,
		notifier:   notifier,
		reporter:   reporter,
		sleep:      sleep,
	}
	if service == "" {
		return m, nil
	}
	if _, err := probe.CompilePattern(service); err != nil {
		return nil, err
	}
	if opts.Prober == nil {
		return nil, errors.New("service monitor requires a process prober")
	}
	if opts.Ledger == nil {
		return nil, errors.New("service monitor requires a ledger")
	}
	if restartCmd != "" && opts.Runner == nil {
		return nil, errors.New("service monitor requires a runner when a restart command is set")
	}
	m.conditionID = ledger.ServiceID(service)
	return m, nil
}

// Name implements Monitor.
func (m *ServiceMonitor) Name() string { return ledger.ConditionService }

// Enabled reports whether a service is configured.
func (m *ServiceMonitor) Enabled() bool { return m.service != "" }

// Check implements Monitor. Restart failures are reported through the
// result; only probe and ledger failures are returned as errors.
func (m *ServiceMonitor) Check(ctx context.Context) (CheckResult, error) {
	if !m.Enabled() {
		return CheckResult{Healthy: true, Detail: "no service configured"}, nil
	}

	start := time.Now()
	res := CheckResult{ConditionID: m.conditionID}

	alive, err := m.prober.Alive(ctx, m.service)
	if err != nil {
		return res, err
	}
	if alive {
		res.Healthy = true
		res.Detail = fmt.Sprintf("service %q is running", m.service)
		m.reporter.RecordEvent(ctx, observability.Event{
			Level:     observability.LevelInfo,
			Condition: m.conditionID,
			Event:     "service_check",
			Message:   fmt.Sprintf("Service '%s' is running", m.service),
			Fields:    map[string]interface{}{"service": m.service},
		})
		if err := m.ledger.Clear(ctx, m.conditionID); err != nil {
			return res, fmt.Errorf("clear service alert: %w", err)
		}
		return m.finish(res, start), nil
	}

	res.Detail = fmt.Sprintf("service %q is not running", m.service)
	m.reporter.RecordEvent(ctx, observability.Event{
		Level:     observability.LevelError,
		Condition: m.conditionID,
		Event:     "service_down",
		Message:   fmt.Sprintf("Service '%s' is DOWN", m.service),
		Fields:    map[string]interface{}{"service": m.service},
	})

	active, err := m.ledger.Exists(ctx, m.conditionID)
	if err != nil {
		return res, fmt.Errorf("read service alert: %w", err)
	}
	if active {
		res.Suppressed = true
		m.reporter.RecordEvent(ctx, observability.Event{
			Level:     observability.LevelWarn,
			Condition: m.conditionID,
			Event:     "notification_suppressed",
			Message:   "service alert already outstanding",
		})
	} else {
		m.notifier.Notify(ctx, fmt.Sprintf("🚨 Service '%s' is DOWN", m.service))
		res.Notified = true
	}
	if err := m.ledger.Mark(ctx, m.conditionID); err != nil {
		return res, fmt.Errorf("mark service alert: %w", err)
	}

	if m.restartCmd == "" {
		return m.finish(res, start), nil
	}

	outcome, err := m.restart(ctx)
	res.Remediation = &outcome
	if err != nil {
		return res, err
	}
	if outcome.Succeeded {
		res.Healthy = true
		res.Detail = fmt.Sprintf("service %q restarted", m.service)
		if err := m.ledger.Clear(ctx, m.conditionID); err != nil {
			return res, fmt.Errorf("clear service alert: %w", err)
		}
		return m.finish(res, start), nil
	}

	res.Detail = fmt.Sprintf("service %q restart failed", m.service)
	m.notifier.Notify(ctx, fmt.Sprintf("❌ Restart failed for service '%s'", m.service))
	return m.finish(res, start), nil
}

// restart runs the restart command and re-probes once on a zero exit. The
// returned error is reserved for re-probe failures.
func (m *ServiceMonitor) restart(ctx context.Context) (RemediationOutcome, error) {
	outcome := RemediationOutcome{Attempted: true, ExitCode: -1}
	m.reporter.RecordEvent(ctx, observability.Event{
		Level:     observability.LevelInfo,
		Condition: m.conditionID,
		Event:     "remediation_started",
		Message:   fmt.Sprintf("Attempting to restart service '%s'", m.service),
		Fields:    map[string]interface{}{"service": m.service, "command": m.restartCmd},
	})

	result, err := m.runner.Run(ctx, m.restartCmd)
	outcome.ExitCode = result.ExitCode
	if err == nil && result.ExitCode != 0 {
		err = fmt.Errorf("restart command exited with status %d", result.ExitCode)
	}
	if err != nil {
		outcome.Err = err
		m.recordRemediation(ctx, "command_failed", outcome, result.Duration)
		return outcome, nil
	}

	if err := sleepWithContext(ctx, m.sleep, m.grace); err != nil {
		outcome.Err = fmt.Errorf("restart grace interrupted: %w", err)
		m.recordRemediation(ctx, "still_down", outcome, result.Duration)
		return outcome, nil
	}

	alive, err := m.prober.Alive(ctx, m.service)
	if err != nil {
		return outcome, err
	}
	if !alive {
		outcome.Err = errors.New("service not running after restart")
		m.recordRemediation(ctx, "still_down", outcome, result.Duration)
		return outcome, nil
	}
	outcome.Succeeded = true
	m.recordRemediation(ctx, "succeeded", outcome, result.Duration)
	return outcome, nil
}

func (m *ServiceMonitor) recordRemediation(ctx context.Context, label string, outcome RemediationOutcome, took time.Duration) {
	m.reporter.RecordMetric(observability.Metric{
		Name:        "remediations_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": label},
		Description: "Restart attempts grouped by outcome.",
	})
	event := observability.Event{
		Level:     observability.LevelInfo,
		Condition: m.conditionID,
		Event:     "remediation_finished",
		Message:   fmt.Sprintf("Service '%s' restarted", m.service),
		Fields: map[string]interface{}{
			"service":     m.service,
			"exit_code":   outcome.ExitCode,
			"duration_ms": took.Milliseconds(),
			"result":      label,
		},
	}
	if !outcome.Succeeded {
		event.Level = observability.LevelError
		event.Message = fmt.Sprintf("Restart failed for service '%s'", m.service)
		if outcome.Err != nil {
			event.Fields["error"] = outcome.Err.Error()
		}
	}
	m.reporter.RecordEvent(ctx, event)
}

func (m *ServiceMonitor) finish(res CheckResult, start time.Time) CheckResult {
	res.Duration = time.Since(start)
	recordCheckMetrics(m.reporter, ledger.ConditionService, res)
	return res
}

var _ Monitor = (*ServiceMonitor)(nil)
