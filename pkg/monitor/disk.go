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
)

// DiskOptions configures a DiskMonitor.
type DiskOptions struct {
	Path        string
	ThresholdGB int
	Prober      probe.DiskProber
	Ledger      ledger.Ledger
	Notifier    notify.Notifier
	Reporter    observability.Reporter
}

// DiskMonitor alerts when free space on a path drops below a threshold.
type DiskMonitor struct {
	path        string
	thresholdGB int
	conditionID string
	prober      probe.DiskProber
	ledger      ledger.Ledger
	notifier    notify.Notifier
	reporter    observability.Reporter
}

// NewDiskMonitor validates opts and builds a DiskMonitor.
func NewDiskMonitor(opts DiskOptions) (*DiskMonitor, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("disk monitor requires a path")
	}
	if opts.ThresholdGB < 0 {
		return nil, errors.New("disk threshold must not be negative")
	}
	if opts.Prober == nil {
		return nil, errors.New("disk monitor requires a disk prober")
	}
	if opts.Ledger == nil {
		return nil, errors.New("disk monitor requires a ledger")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Disabled{}
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = observability.NoopReporter{}
	}
	return &DiskMonitor{
		path:        opts.Path,
		thresholdGB: opts.ThresholdGB,
		conditionID: ledger.DiskID(opts.Path),
		prober:      opts.Prober,
		ledger:      opts.Ledger,
		notifier:    notifier,
		reporter:    reporter,
	}, nil
}

// Name implements Monitor.
func (m *DiskMonitor) Name() string { return ledger.ConditionDisk }

// Check implements Monitor. Probe and ledger failures are returned as errors;
// the threshold itself counts as healthy.
func (m *DiskMonitor) Check(ctx context.Context) (CheckResult, error) {
	start := time.Now()
	res := CheckResult{ConditionID: m.conditionID}

	usage, err := m.prober.Usage(ctx, m.path)
	if err != nil {
		return res, err
	}
	freeGB := usage.FreeGB()
	res.Detail = fmt.Sprintf("%.2f GB free on %s", freeGB, m.path)
	res.Healthy = freeGB >= float64(m.thresholdGB)

	m.reporter.RecordMetric(observability.Metric{
		Name:        "disk_free_bytes",
		Type:        observability.MetricGauge,
		Value:       float64(usage.FreeBytes),
		Labels:      map[string]string{"path": m.path},
		Description: "Free bytes available to unprivileged users on the monitored path.",
	})
	m.reporter.RecordEvent(ctx, observability.Event{
		Level:     observability.LevelInfo,
		Condition: m.conditionID,
		Event:     "disk_check",
		Message:   "Disk check: " + res.Detail,
		Fields: map[string]interface{}{
			"path":         m.path,
			"free_bytes":   usage.FreeBytes,
			"threshold_gb": m.thresholdGB,
		},
	})

	if res.Healthy {
		if err := m.ledger.Clear(ctx, m.conditionID); err != nil {
			return res, fmt.Errorf("clear disk alert: %w", err)
		}
		res.Duration = time.Since(start)
		recordCheckMetrics(m.reporter, ledger.ConditionDisk, res)
		return res, nil
	}

	m.reporter.RecordEvent(ctx, observability.Event{
		Level:     observability.LevelError,
		Condition: m.conditionID,
		Event:     "disk_low",
		Message:   "Disk space LOW",
		Fields: map[string]interface{}{
			"path":         m.path,
			"free_gb":      roundGB(freeGB),
			"threshold_gb": m.thresholdGB,
		},
	})

	active, err := m.ledger.Exists(ctx, m.conditionID)
	if err != nil {
		return res, fmt.Errorf("read disk alert: %w", err)
	}
	if active {
		res.Suppressed = true
		m.recordSuppressed(ctx)
	} else {
		m.notifier.Notify(ctx, fmt.Sprintf("🚨 Low disk space on %s: %.2f GB remaining", m.path, freeGB))
		res.Notified = true
		if err := m.ledger.Mark(ctx, m.conditionID); err != nil {
			return res, fmt.Errorf("mark disk alert: %w", err)
		}
	}

	res.Duration = time.Since(start)
	recordCheckMetrics(m.reporter, ledger.ConditionDisk, res)
	return res, nil
}

func (m *DiskMonitor) recordSuppressed(ctx context.Context) {
	m.reporter.RecordEvent(ctx, observability.Event{
		Level:     observability.LevelWarn,
		Condition: m.conditionID,
		Event:     "notification_suppressed",
		Message:   "disk alert already outstanding",
	})
}

func roundGB(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

var _ Monitor = (*DiskMonitor)(nil)
