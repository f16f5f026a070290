package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Result contains the outcome of a command execution
type Result struct {
	Args     []string
	Output   string // combined stdout and stderr
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands and returns their combined output
type Runner interface {
	Run(ctx context.Context, args []string) (*Result, error)
}

// ProcessError is returned when a command exits with a non-zero status.
// The Result returned alongside it is still populated.
type ProcessError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Output))
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a command does not finish within the configured timeout
type TimeoutError struct {
	Args    []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", strings.Join(e.Args, " "), e.Timeout)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Timeout time.Duration // 0 for no timeout
	Debug   bool
}

// NewExecRunner creates a runner with the given timeout and debug tracing
func NewExecRunner(timeout time.Duration, debug bool) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Debug: debug}
}

// Run executes args[0] with args[1:] and waits for it to exit
func (r *ExecRunner) Run(ctx context.Context, args []string) (*Result, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	r.logCommand(args)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	start := time.Now()
	output, err := cmd.CombinedOutput()

	result := &Result{
		Args:     args,
		Output:   string(output),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Timeout > 0 {
			result.ExitCode = -1
			r.logCommandResult(result)
			return result, &TimeoutError{Args: args, Timeout: r.Timeout}
		}

		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			result.ExitCode = -1
			r.logCommandResult(result)
			return result, fmt.Errorf("command %q could not be executed: %w", strings.Join(args, " "), err)
		}

		result.ExitCode = exitError.ExitCode()
		r.logCommandResult(result)
		return result, &ProcessError{Args: args, ExitCode: result.ExitCode, Output: result.Output, Err: err}
	}

	r.logCommandResult(result)
	return result, nil
}

// logCommand logs the command being executed if debug mode is enabled
func (r *ExecRunner) logCommand(args []string) {
	if r.Debug {
		klog.V(1).Infof(" Executing command: %v", args)
	}
}

// logCommandResult logs the command result if debug mode is enabled
func (r *ExecRunner) logCommandResult(result *Result) {
	if r.Debug {
		klog.V(1).Infof(" Exit code: %d (%.3fs)", result.ExitCode, result.Duration.Seconds())
		if len(result.Output) > 0 {
			klog.V(1).Infof(" output: %s", result.Output)
		}
	}
}
