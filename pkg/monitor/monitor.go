// Package monitor implements the per-condition check state machines. Each
// monitor owns one ledger record and decides when a notification is sent,
// suppressed or cleared.
package monitor

import (
	"context"
	"time"

	"github.com/hostwatchd/hostwatchd/pkg/observability"
)

// CheckResult is the verdict of one monitor run. It is never persisted.
type CheckResult struct {
	ConditionID string
	Healthy     bool
	Detail      string
	// Notified is set when the initial "down" notification was dispatched in this run.
	Notified bool
	// Suppressed is set when an outstanding record withheld that notification.
	Suppressed  bool
	Remediation *RemediationOutcome
	Duration    time.Duration
}

// RemediationOutcome describes a restart attempt made by the service monitor.
type RemediationOutcome struct {
	Attempted bool
	// Succeeded requires a zero exit status and a live process on re-probe.
	Succeeded bool
	ExitCode  int
	Err       error
}

// Monitor checks a single condition.
type Monitor interface {
	Name() string
	Check(ctx context.Context) (CheckResult, error)
}

func resultLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func recordCheckMetrics(reporter observability.Reporter, condition string, res CheckResult) {
	reporter.RecordMetric(observability.Metric{
		Name:        "checks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"condition": condition, "result": resultLabel(res.Healthy)},
		Description: "Number of condition checks grouped by condition and verdict.",
	})
	reporter.RecordMetric(observability.Metric{
		Name:        "check_seconds",
		Type:        observability.MetricHistogram,
		Value:       res.Duration.Seconds(),
		Labels:      map[string]string{"condition": condition},
		Description: "Duration of condition checks.",
		Unit:        "seconds",
	})
}

func sleepWithContext(ctx context.Context, sleep func(time.Duration), d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
