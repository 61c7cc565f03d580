package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is the subset of a process entry used for matching.
type ProcessInfo struct {
	PID     int32
	Name    string
	Cmdline string
}

// ProcessProber decides whether a service is running.
type ProcessProber interface {
	Alive(ctx context.Context, pattern string) (bool, error)
}

// ProcessTable matches a pattern against the full command line of every
// process, in the manner of pgrep -f. The agent's own process is never a match.
type ProcessTable struct {
	list func(context.Context) ([]ProcessInfo, error)
	self int32
}

// NewProcessTable returns a ProcessProber backed by the host process table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{list: listProcesses, self: int32(os.Getpid())}
}

// CompilePattern validates a service pattern. Patterns are regular expressions
// matched anywhere in the command line.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("service pattern must not be empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid service pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Alive implements ProcessProber.
func (t *ProcessTable) Alive(ctx context.Context, pattern string) (bool, error) {
	matches, err := t.Find(ctx, pattern)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// Find returns the processes whose command line matches pattern.
func (t *ProcessTable) Find(ctx context.Context, pattern string) ([]ProcessInfo, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	procs, err := t.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	matches := make([]ProcessInfo, 0)
	for _, p := range procs {
		if p.PID == t.self {
			continue
		}
		subject := p.Cmdline
		if subject == "" {
			// kernel threads and zombies have no command line
			subject = p.Name
		}
		if re.MatchString(subject) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func listProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := ProcessInfo{PID: p.Pid}
		// Processes may exit or deny access between listing and inspection.
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			info.Cmdline = cmdline
		}
		if info.Cmdline == "" {
			name, err := p.NameWithContext(ctx)
			if err != nil {
				continue
			}
			info.Name = name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

var _ ProcessProber = (*ProcessTable)(nil)
