package sxbackup

import (
	"context"
	"errors"
	"fmt"

	"github.com/runningman84/btrfs-backup/pkg/config"
	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/parser"
	"github.com/runningman84/btrfs-backup/pkg/runner"
	"k8s.io/klog/v2"
)

// Action selects how a job definition is written
type Action string

const (
	ActionInit   Action = "init"
	ActionUpdate Action = "update"
)

// RunError is returned when a run does not report the created subvolume
type RunError struct {
	URL    string
	Reason string
	Output string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("btrfs-sxbackup run %s: %s", e.URL, e.Reason)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Driver invokes btrfs-sxbackup
type Driver struct {
	config *config.Config
	runner runner.Runner
}

// NewDriver creates a new btrfs-sxbackup driver
func NewDriver(cfg *config.Config, r runner.Runner) *Driver {
	return &Driver{
		config: cfg,
		runner: r,
	}
}

// command appends args unless fixtures are replayed in test mode
func (d *Driver) command(cmd []string, args ...string) []string {
	if d.config.Mode == config.ModeTest {
		return cmd
	}
	return config.WithArgs(cmd, args...)
}

// Info returns the job status for url. The boolean is false when the job
// has not been initialised yet.
func (d *Driver) Info(ctx context.Context, url string) (models.JobStatus, bool, error) {
	output := ""
	result, err := d.runner.Run(ctx, d.command(d.config.SxbackupInfoCmd, url))
	if err != nil {
		var procErr *runner.ProcessError
		if !errors.As(err, &procErr) {
			return nil, false, fmt.Errorf("btrfs-sxbackup info failed: %w", err)
		}
		output = procErr.Output
	} else {
		output = result.Output
	}

	status, exists := parser.ParseJobStatus(output)
	if !exists {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("btrfs-sxbackup info failed: %w", err)
	}

	return status, true, nil
}

// Run transfers a new snapshot for url and returns the name of the created subvolume.
// The success line in the output decides the outcome, not the exit code.
func (d *Driver) Run(ctx context.Context, url string) (string, error) {
	var procErr *runner.ProcessError

	output := ""
	result, err := d.runner.Run(ctx, d.command(d.config.SxbackupRunCmd, url))
	if err != nil {
		if !errors.As(err, &procErr) {
			return "", fmt.Errorf("btrfs-sxbackup run failed: %w", err)
		}
		output = procErr.Output
	} else {
		output = result.Output
	}

	name, parseErr := parser.ParseCreatedSubvolume(output)
	if parseErr != nil {
		runErr := &RunError{URL: url, Reason: "missing success result", Output: output, Err: parseErr}
		if procErr != nil {
			runErr.Err = procErr
		}
		return "", runErr
	}

	if procErr != nil {
		klog.Warningf("btrfs-sxbackup run %s exited with code %d but created %s", url, procErr.ExitCode, name)
	}

	return name, nil
}

// Configure creates (init) or updates the btrfs-sxbackup job definition for job
func (d *Driver) Configure(ctx context.Context, action Action, job *models.BackupJob) error {
	var cmd []string
	switch action {
	case ActionInit:
		if job.Source == "" {
			return fmt.Errorf("job %s: source is required to initialise a backup", job.ID)
		}
		cmd = d.config.SxbackupInitCmd
	case ActionUpdate:
		cmd = d.config.SxbackupUpdateCmd
	default:
		return fmt.Errorf("action argument must be only %q or %q, got %q", ActionInit, ActionUpdate, action)
	}

	var args []string
	if job.SourceRetention != "" {
		args = append(args, "-sr", job.SourceRetention)
	}
	if job.DestinationRetention != "" {
		args = append(args, "-dr", job.DestinationRetention)
	}
	if action == ActionInit {
		args = append(args, job.Source)
	}
	args = append(args, job.Destination)

	if _, err := d.runner.Run(ctx, d.command(cmd, args...)); err != nil {
		return fmt.Errorf("btrfs-sxbackup %s failed: %w", action, err)
	}

	return nil
}

// Purge removes all snapshots and the job definition for url
func (d *Driver) Purge(ctx context.Context, url string) error {
	if _, err := d.runner.Run(ctx, d.command(d.config.SxbackupPurgeCmd, url)); err != nil {
		return fmt.Errorf("btrfs-sxbackup purge failed: %w", err)
	}

	return nil
}
