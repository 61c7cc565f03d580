// Package remediation runs the operator-supplied restart command. The command
// line is trusted configuration and is handed to the shell unmodified.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultShell interprets remediation command lines.
const DefaultShell = "/bin/sh"

// waitDelay bounds how long Run waits for inherited output pipes after the
// shell itself has exited (for example when the command backgrounds a daemon).
const waitDelay = 2 * time.Second

// Result captures the outcome of one remediation command.
type Result struct {
	Command  string
	ExitCode int
	Duration time.Duration
}

// Runner executes a remediation command line.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// ShellRunner executes command lines through a shell with a timeout.
type ShellRunner struct {
	shell   string
	timeout time.Duration
	env     map[string]string
	stdout  io.Writer
	stderr  io.Writer
}

// Option configures a ShellRunner.
type Option func(*ShellRunner)

// WithShell overrides the interpreter (default /bin/sh).
func WithShell(path string) Option {
	return func(r *ShellRunner) {
		if strings.TrimSpace(path) != "" {
			r.shell = path
		}
	}
}

// WithOutput redirects the command's stdout and stderr. By default both go to
// the agent's stderr so stdout stays free for reports.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *ShellRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithEnv adds variables to the command environment.
func WithEnv(env map[string]string) Option {
	return func(r *ShellRunner) {
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// NewShellRunner builds a runner. A zero timeout lets the command run unbounded.
func NewShellRunner(timeout time.Duration, opts ...Option) (*ShellRunner, error) {
	if timeout < 0 {
		return nil, errors.New("remediation timeout must not be negative")
	}
	r := &ShellRunner{
		shell:   DefaultShell,
		timeout: timeout,
		env:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes command via "<shell> -c". A non-zero exit is reported through
// Result.ExitCode with a nil error; errors mean the command could not run to
// completion (spawn failure, timeout, cancellation).
func (r *ShellRunner) Run(ctx context.Context, command string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := Result{Command: command, ExitCode: -1}
	if strings.TrimSpace(command) == "" {
		return result, errors.New("remediation command must not be empty")
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, r.shell, "-c", command) // #nosec G204 -- operator-supplied command line
	cmd.Env = append(os.Environ(), formatEnv(r.env)...)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)

	if execCtx.Err() != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, fmt.Errorf("remediation command timed out after %s", r.timeout)
		}
		return result, execCtx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			result.ExitCode = cmd.ProcessState.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("remediation command failed to run: %w", err)
	}

	result.ExitCode = 0
	return result, nil
}

// Timeout returns the configured timeout.
func (r *ShellRunner) Timeout() time.Duration {
	return r.timeout
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

var _ Runner = (*ShellRunner)(nil)
