package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/runningman84/btrfs-backup/pkg/btrfs"
	"github.com/runningman84/btrfs-backup/pkg/config"
	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/runner"
	"github.com/runningman84/btrfs-backup/pkg/sxbackup"
	"github.com/runningman84/btrfs-backup/pkg/timing"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Backup stages
const (
	StageStart            = "start"
	StageRun              = "run"
	StageStatistics       = "statistics"
	StageCheckDestination = "checkDestination"
)

// ErrUnhealthy is returned for a backup whose destination volume violates a health rule
var ErrUnhealthy = errors.New("destination volume is unhealthy")

// VolumeChecker inspects btrfs volumes
type VolumeChecker interface {
	Check(ctx context.Context, path string) (*models.VolumeHealth, error)
	SubvolumesReport(ctx context.Context, path string) (*models.SubvolumesReport, error)
}

// BackupDriver manages btrfs-sxbackup jobs
type BackupDriver interface {
	Info(ctx context.Context, url string) (models.JobStatus, bool, error)
	Run(ctx context.Context, url string) (string, error)
	Configure(ctx context.Context, action sxbackup.Action, job *models.BackupJob) error
	Purge(ctx context.Context, url string) error
}

// RunRecorder stores job run outcomes
type RunRecorder interface {
	RecordRun(run *models.JobRun) error
}

// Operator runs the configured backup jobs one after another
type Operator struct {
	config    *config.Config
	volumes   VolumeChecker
	driver    BackupDriver
	history   RunRecorder
	diskSpace func(path string) (*models.DiskSpace, error)
	now       func() time.Time
}

// NewOperator creates a new operator instance
func NewOperator(cfg *config.Config) *Operator {
	r := runner.NewExecRunner(cfg.CommandTimeout, cfg.IsDebug())

	diskSpace := btrfs.DiskSpace
	if cfg.Mode == config.ModeTest {
		// job destinations do not exist when fixtures are replayed
		diskSpace = func(string) (*models.DiskSpace, error) {
			return btrfs.DiskSpace(cfg.TestDataDir)
		}
	}

	return &Operator{
		config:    cfg,
		volumes:   btrfs.NewManager(cfg, r),
		driver:    sxbackup.NewDriver(cfg, r),
		diskSpace: diskSpace,
		now:       time.Now,
	}
}

// SetHistory enables recording of backup job outcomes
func (o *Operator) SetHistory(history RunRecorder) {
	o.history = history
}

// Backup runs the given backup jobs, or every configured job when ids is empty.
// A failing job does not stop the remaining jobs; all failures are returned together.
func (o *Operator) Backup(ctx context.Context, ids ...string) error {
	if o.config.EnableLocking {
		if err := o.acquireLock(); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer o.releaseLock()
	}

	o.logConfig()
	klog.Info("Backup process started")

	if len(ids) == 0 {
		ids = o.config.JobIDs()
	}

	var errs error
	succeeded := 0
	for _, id := range ids {
		if _, err := o.BackupJob(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", id, err))
			continue
		}
		succeeded++
	}

	klog.Infof("Backup process finished - %d job(s) succeeded, %d job(s) failed", succeeded, len(multierr.Errors(errs)))
	return errs
}

// BackupJob runs a single backup job and validates its destination volume
func (o *Operator) BackupJob(ctx context.Context, id string) (*models.JobRun, error) {
	job, err := o.config.Job(id)
	if err != nil {
		klog.ErrorS(err, "Invalid backup job", "job", id)
		return nil, err
	}

	trace := timing.NewTrace()
	trace.Record(StageStart)
	run := &models.JobRun{JobID: id, StartedAt: o.now()}

	if o.config.DryRun {
		klog.Infof("[DRY-RUN] Would run backup job %s for %s", id, job.URL())
		health, err := o.volumes.Check(ctx, job.Destination)
		if err != nil {
			klog.ErrorS(err, "Backup job check failed", "job", id, "stage", StageCheckDestination)
			return nil, err
		}
		o.logHealth(id, job.Destination, health)
		return nil, nil
	}

	stage := StageRun
	snapshot, err := o.driver.Run(ctx, job.URL())
	if err != nil {
		return run, o.fail(run, trace, job, stage, err)
	}
	run.Snapshot = snapshot
	trace.Record(stage)

	stage = StageStatistics
	stat, err := o.subvolumeStat(ctx, job.Destination, snapshot)
	if err != nil {
		return run, o.fail(run, trace, job, stage, err)
	}
	trace.Record(stage)

	stage = StageCheckDestination
	health, err := o.volumes.Check(ctx, job.Destination)
	if err != nil {
		return run, o.fail(run, trace, job, stage, err)
	}
	trace.Record(stage)

	durations := trace.Durations(true)
	run.Stage = stage
	run.Healthy = health.Healthy
	run.Violations = health.Violations
	run.Durations = durations
	run.CompletedAt = o.now()
	run.Status = models.RunStatusSucceeded
	if !health.Healthy {
		run.Status = models.RunStatusUnhealthy
	}

	klog.InfoS(fmt.Sprintf("Backup job %s finished", id),
		"job", id,
		"config", job,
		"snapshot", snapshot,
		"healthy", health.Healthy,
		"violations", health.Violations,
		"snapshotCount", health.SnapshotCount,
		"size", health.Size,
		"subvolume", stat,
		"duration", durations,
	)
	o.logHealth(id, job.Destination, health)
	o.recordRun(run)

	if !health.Healthy {
		return run, fmt.Errorf("%w: %s", ErrUnhealthy, strings.Join(health.Violations, "; "))
	}

	return run, nil
}

// fail logs a job failure with the stage it happened in and records it
func (o *Operator) fail(run *models.JobRun, trace *timing.Trace, job *models.BackupJob, stage string, err error) error {
	run.Stage = stage
	run.Status = models.RunStatusFailed
	run.Error = err.Error()
	run.Durations = trace.Durations(true)
	run.CompletedAt = o.now()

	klog.ErrorS(err, fmt.Sprintf("Backup job %s failed on stage '%s'", job.ID, stage),
		"job", job.ID,
		"config", job,
		"stage", stage,
		"duration", run.Durations,
	)
	o.recordRun(run)

	return fmt.Errorf("stage %s: %w", stage, err)
}

func (o *Operator) recordRun(run *models.JobRun) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordRun(run); err != nil {
		klog.ErrorS(err, "Failed to record job run", "job", run.JobID)
	}
}

// subvolumeStat collects the usage of the subvolume created by a run
func (o *Operator) subvolumeStat(ctx context.Context, destination, snapshot string) (*models.SubvolumeStat, error) {
	report, err := o.volumes.SubvolumesReport(ctx, destination)
	if err != nil {
		return nil, err
	}

	subvolume, ok := report.Subvolumes[snapshot]
	if !ok {
		for name, sv := range report.Subvolumes {
			if strings.HasSuffix(name, "/"+snapshot) {
				subvolume, ok = sv, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("subvolume %s not found in usage report of %s", snapshot, destination)
	}

	space, err := o.diskSpace(destination)
	if err != nil {
		return nil, err
	}

	return &models.SubvolumeStat{
		Used:           subvolume.TotalBytes,
		Exclusive:      subvolume.ExclusiveBytes,
		ExclusiveTotal: report.ExclusiveBytes,
		Total:          space.TotalBytes,
		Free:           space.AvailableBytes,
	}, nil
}

func (o *Operator) logHealth(id, destination string, health *models.VolumeHealth) {
	for _, violation := range health.Violations {
		klog.Warningf(" Job %s destination %s: %s", id, destination, violation)
	}
	for _, stat := range health.DeviceErrors {
		klog.Warningf(" Device %s has %d %s", stat.Device, stat.Value, stat.Counter)
	}
	if len(health.DeviceErrors) > 0 {
		klog.Warningf(" Destination %s has device errors - consider running 'btrfs scrub start %s'", destination, destination)
	}
}

// Configure creates or updates the btrfs-sxbackup definition of every configured job
func (o *Operator) Configure(ctx context.Context) error {
	if o.config.EnableLocking {
		if err := o.acquireLock(); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer o.releaseLock()
	}

	klog.Info("Update backup jobs started")

	var errs error
	for _, id := range o.config.JobIDs() {
		if err := o.ConfigureJob(ctx, id); err != nil {
			klog.ErrorS(err, fmt.Sprintf("Backup job %s configuration failed", id), "job", id)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", id, err))
		}
	}

	klog.Info("Update backup jobs finished")
	return errs
}

// ConfigureJob initialises the job when btrfs-sxbackup does not know it yet,
// otherwise updates it
func (o *Operator) ConfigureJob(ctx context.Context, id string) error {
	job, err := o.config.Job(id)
	if err != nil {
		return err
	}

	_, exists, err := o.driver.Info(ctx, job.URL())
	if err != nil {
		return err
	}

	action := sxbackup.ActionUpdate
	if !exists {
		action = sxbackup.ActionInit
	}

	if o.config.DryRun {
		klog.Infof("[DRY-RUN] Would %s backup job %s", action, id)
		return nil
	}

	if err := o.driver.Configure(ctx, action, job); err != nil {
		return err
	}

	klog.InfoS(fmt.Sprintf("Backup job %s configured", id), "job", id, "action", string(action), "config", job)
	return nil
}

// Info returns the btrfs-sxbackup status of a job. The boolean is false when
// the job has not been configured yet.
func (o *Operator) Info(ctx context.Context, id string) (models.JobStatus, bool, error) {
	job, err := o.config.Job(id)
	if err != nil {
		return nil, false, err
	}
	return o.driver.Info(ctx, job.URL())
}

// JobIDs returns the configured job identifiers in configuration order
func (o *Operator) JobIDs() []string {
	return o.config.JobIDs()
}

// Destinations returns the distinct destination volumes of all configured jobs
func (o *Operator) Destinations() ([]string, error) {
	var paths []string
	seen := map[string]bool{}
	for _, id := range o.config.JobIDs() {
		job, err := o.config.Job(id)
		if err != nil {
			return nil, err
		}
		if seen[job.Destination] {
			continue
		}
		seen[job.Destination] = true
		paths = append(paths, job.Destination)
	}
	return paths, nil
}

// CheckVolume evaluates the health of the btrfs volume at path
func (o *Operator) CheckVolume(ctx context.Context, path string) (*models.VolumeHealth, error) {
	health, err := o.volumes.Check(ctx, path)
	if err != nil {
		return nil, err
	}
	o.logHealth(path, path, health)
	return health, nil
}

// Purge removes all snapshots and the btrfs-sxbackup definition of a job
func (o *Operator) Purge(ctx context.Context, id string) error {
	job, err := o.config.Job(id)
	if err != nil {
		return err
	}

	if o.config.EnableLocking {
		if err := o.acquireLock(); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer o.releaseLock()
	}

	if o.config.DryRun {
		klog.Infof("[DRY-RUN] Would purge backup job %s (%s)", id, job.URL())
		return nil
	}

	if err := o.driver.Purge(ctx, job.URL()); err != nil {
		return err
	}

	klog.Infof("Purged backup job %s", id)
	return nil
}

// writeLockPID writes the owner PID into a freshly created lock file
var writeLockPID = func(w io.Writer, pid int) error {
	_, err := fmt.Fprintf(w, "%d\n", pid)
	return err
}

// acquireLock creates a lock file to prevent concurrent runs
func (o *Operator) acquireLock() error {
	lockPath := o.config.LockFilePath

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock file exists at %s - another instance may be running", lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	pid := os.Getpid()
	if err := writeLockPID(file, pid); err != nil {
		if removeErr := os.Remove(lockPath); removeErr != nil {
			klog.Infof("Warning: failed to remove lock file %s: %v", lockPath, removeErr)
		}
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	klog.Infof("Acquired lock (PID %d) at %s", pid, lockPath)
	return nil
}

// releaseLock removes the lock file
func (o *Operator) releaseLock() {
	lockPath := o.config.LockFilePath
	if err := os.Remove(lockPath); err != nil {
		klog.Infof("Warning: failed to remove lock file %s: %v", lockPath, err)
	} else {
		klog.Infof("Released lock at %s", lockPath)
	}
}

func (o *Operator) logConfig() {
	klog.Info("Current config")
	klog.Infof("Mode: %s", o.config.Mode)
	klog.Infof("Log level: %s", o.config.LogLevel)
	klog.Infof("Dry run: %t", o.config.DryRun)
	if o.config.CommandTimeout > 0 {
		klog.Infof("Command timeout: %s", o.config.CommandTimeout)
	} else {
		klog.Infof("Command timeout: none")
	}
	if o.config.HistoryDatabase != "" {
		klog.Infof("History database: %s", o.config.HistoryDatabase)
	}
	klog.Infof("Jobs: %v", o.config.JobIDs())
}
