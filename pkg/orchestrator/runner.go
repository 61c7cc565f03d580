package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostwatchd/hostwatchd/pkg/monitor"
	"github.com/hostwatchd/hostwatchd/pkg/notify"
	"github.com/hostwatchd/hostwatchd/pkg/observability"
)

// OutcomeStatus represents the aggregated verdict of a single pass.
type OutcomeStatus string

const (
	OutcomeHealthy   OutcomeStatus = "healthy"
	OutcomeUnhealthy OutcomeStatus = "unhealthy"
	OutcomeCrashed   OutcomeStatus = "crashed"
)

// Process exit codes for each outcome.
const (
	ExitHealthy   = 0
	ExitUnhealthy = 1
	ExitCrashed   = 2
)

// Outcome summarises the checks performed during RunOnce.
type Outcome struct {
	Status  OutcomeStatus
	Results []monitor.CheckResult
	// Failed names the monitor that crashed the pass.
	Failed   string
	Err      error
	Duration time.Duration
}

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case OutcomeHealthy:
		return ExitHealthy
	case OutcomeUnhealthy:
		return ExitUnhealthy
	default:
		return ExitCrashed
	}
}

// PanicError wraps a value recovered from a panicking monitor.
type PanicError struct {
	Monitor string
	Value   interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s monitor panicked: %v", e.Monitor, e.Value)
}

// Runner executes every monitor once, in order.
type Runner struct {
	monitors []monitor.Monitor
	notifier notify.Notifier
	reporter observability.Reporter
	nodeName string
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep observability.Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithNotifier sets the notifier used for crash reports.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithNodeName annotates runner events with the host name.
func WithNodeName(name string) Option {
	return func(r *Runner) {
		r.nodeName = strings.TrimSpace(name)
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner. Monitors run in the order given; the first
// crash stops the pass.
func NewRunner(monitors []monitor.Monitor, opts ...Option) (*Runner, error) {
	if len(monitors) == 0 {
		return nil, errors.New("at least one monitor is required")
	}
	for i, m := range monitors {
		if m == nil {
			return nil, fmt.Errorf("monitor %d must not be nil", i)
		}
	}

	runner := newRunner(opts)
	runner.monitors = append([]monitor.Monitor(nil), monitors...)
	return runner, nil
}

func newRunner(opts []Option) *Runner {
	runner := &Runner{
		notifier: notify.Disabled{},
		reporter: observability.NoopReporter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Crash reports a failure that stopped the agent before any monitor ran, such
// as an unreachable alert ledger, the same way a crashing monitor is reported.
// stage names the failing step in the agent_crashed event.
func Crash(ctx context.Context, stage string, err error, opts ...Option) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if err == nil {
		err = errors.New("unknown failure")
	}
	r := newRunner(opts)
	out := Outcome{Status: OutcomeCrashed, Failed: stage, Err: err}
	r.reportCrash(ctx, out)
	r.recordOutcome(ctx, out)
	return out
}

// RunOnce executes the monitors and aggregates their verdicts. Monitor errors
// and panics never escape; they produce an OutcomeCrashed with Err set.
func (r *Runner) RunOnce(ctx context.Context) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	start := r.now()
	out := Outcome{Status: OutcomeHealthy}

	for _, m := range r.monitors {
		res, err := r.check(ctx, m)
		if err != nil {
			out.Status = OutcomeCrashed
			out.Failed = m.Name()
			out.Err = fmt.Errorf("%s check: %w", m.Name(), err)
			break
		}
		out.Results = append(out.Results, res)
		if !res.Healthy {
			out.Status = OutcomeUnhealthy
		}
	}
	out.Duration = r.now().Sub(start)

	if out.Status == OutcomeCrashed {
		r.reportCrash(ctx, out)
	}
	r.recordOutcome(ctx, out)
	return out
}

func (r *Runner) check(ctx context.Context, m monitor.Monitor) (res monitor.CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Monitor: m.Name(), Value: p}
		}
	}()
	return m.Check(ctx)
}

func (r *Runner) reportCrash(ctx context.Context, out Outcome) {
	fields := map[string]interface{}{
		"monitor": out.Failed,
		"error":   out.Err.Error(),
	}
	var panicErr *PanicError
	if errors.As(out.Err, &panicErr) {
		fields["panic"] = true
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:   observability.LevelError,
		Node:    r.nodeName,
		Event:   "agent_crashed",
		Message: "Health agent crashed",
		Fields:  fields,
	})
	// The run context may already be cancelled by SIGINT/SIGTERM; the
	// notifier bounds delivery with its own timeout.
	r.notifier.Notify(context.WithoutCancel(ctx), fmt.Sprintf("🔥 Health agent crashed: %v", out.Err))
}

func (r *Runner) recordOutcome(ctx context.Context, out Outcome) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "run_outcomes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"status": string(out.Status)},
		Description: "Number of agent runs grouped by outcome status.",
	})

	if out.Status == OutcomeCrashed {
		return
	}

	level := observability.LevelInfo
	message := "System health: OK"
	if out.Status == OutcomeUnhealthy {
		level = observability.LevelWarn
		message = "System health: PROBLEM DETECTED"
	}
	checks := make([]map[string]interface{}, 0, len(out.Results))
	for _, res := range out.Results {
		if res.ConditionID == "" {
			continue
		}
		checks = append(checks, map[string]interface{}{
			"condition": res.ConditionID,
			"healthy":   res.Healthy,
			"detail":    res.Detail,
		})
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:   level,
		Node:    r.nodeName,
		Event:   "run_outcome",
		Message: message,
		Fields: map[string]interface{}{
			"status":      out.Status,
			"checks":      checks,
			"duration_ms": out.Duration.Milliseconds(),
		},
	})
}
