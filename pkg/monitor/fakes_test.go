package monitor

import (
	"context"
	"sync"

	"github.com/hostwatchd/hostwatchd/pkg/notify"
	"github.com/hostwatchd/hostwatchd/pkg/probe"
	"github.com/hostwatchd/hostwatchd/pkg/remediation"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) notify.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return notify.Delivery{Attempted: true, Delivered: true, StatusCode: 200}
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = nil
}

type fakeDisk struct {
	freeBytes uint64
	err       error
	calls     int
}

func (d *fakeDisk) Usage(_ context.Context, path string) (probe.DiskUsage, error) {
	d.calls++
	if d.err != nil {
		return probe.DiskUsage{}, d.err
	}
	return probe.DiskUsage{Path: path, TotalBytes: 100 * probe.BytesPerGB, FreeBytes: d.freeBytes}, nil
}

func gb(v float64) uint64 { return uint64(v * probe.BytesPerGB) }

// scriptedProcesses answers Alive from a queue; the last answer repeats.
type scriptedProcesses struct {
	answers []bool
	err     error
	calls   int
}

func (p *scriptedProcesses) Alive(context.Context, string) (bool, error) {
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	if len(p.answers) == 0 {
		return false, nil
	}
	answer := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return answer, nil
}

type fakeRunner struct {
	exitCode int
	err      error
	commands []string
	onRun    func()
}

func (r *fakeRunner) Run(_ context.Context, command string) (remediation.Result, error) {
	r.commands = append(r.commands, command)
	if r.onRun != nil {
		r.onRun()
	}
	return remediation.Result{Command: command, ExitCode: r.exitCode}, r.err
}
