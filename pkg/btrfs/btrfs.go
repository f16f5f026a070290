package btrfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/runningman84/btrfs-backup/pkg/config"
	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/parser"
	"github.com/runningman84/btrfs-backup/pkg/runner"
)

// Manager handles btrfs volume inspection
type Manager struct {
	config *config.Config
	runner runner.Runner
}

// NewManager creates a new btrfs manager
func NewManager(cfg *config.Config, r runner.Runner) *Manager {
	return &Manager{
		config: cfg,
		runner: r,
	}
}

// command appends the volume path unless fixtures are replayed in test mode
func (m *Manager) command(cmd []string, path string) []string {
	if m.config.Mode == config.ModeTest {
		return cmd
	}
	return config.WithArgs(cmd, path)
}

// VolumeStatus retrieves the storage class usage of the volume at path
func (m *Manager) VolumeStatus(ctx context.Context, path string) (*models.VolumeStatus, error) {
	result, err := m.runner.Run(ctx, m.command(m.config.BtrfsFilesystemDfCmd, path))
	if err != nil {
		return nil, fmt.Errorf("btrfs filesystem df failed: %w", err)
	}

	status, err := parser.ParseVolumeStatus(result.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filesystem df output: %w", err)
	}

	return status, nil
}

// SubvolumesReport retrieves the per subvolume disk usage of the volume at path
func (m *Manager) SubvolumesReport(ctx context.Context, path string) (*models.SubvolumesReport, error) {
	result, err := m.runner.Run(ctx, m.command(m.config.BtrfsDuCmd, path))
	if err != nil {
		return nil, fmt.Errorf("btrfs-du failed: %w", err)
	}

	report, err := parser.ParseSubvolumesReport(result.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse btrfs-du output: %w", err)
	}

	return report, nil
}

// DeviceErrors checks the device error counters of the volume at path.
// A non-zero exit status is reported in the DeviceReport, not as an error.
func (m *Manager) DeviceErrors(ctx context.Context, path string) (*models.DeviceReport, error) {
	result, err := m.runner.Run(ctx, m.command(m.config.BtrfsDeviceStatsCmd, path))
	if err != nil {
		var procErr *runner.ProcessError
		if !errors.As(err, &procErr) {
			return nil, fmt.Errorf("btrfs device stats failed: %w", err)
		}

		report := &models.DeviceReport{ErrorsDetected: true}
		if stats, parseErr := parser.ParseDeviceStats(procErr.Output); parseErr == nil {
			report.Stats = stats
		}
		return report, nil
	}

	stats, err := parser.ParseDeviceStats(result.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device stats output: %w", err)
	}

	report := &models.DeviceReport{Stats: stats}
	for _, stat := range stats {
		if stat.Value != 0 {
			report.ErrorsDetected = true
			break
		}
	}

	return report, nil
}

// Check evaluates the health of the volume at path
func (m *Manager) Check(ctx context.Context, path string) (*models.VolumeHealth, error) {
	status, err := m.VolumeStatus(ctx, path)
	if err != nil {
		return nil, err
	}

	subvolumes, err := m.SubvolumesReport(ctx, path)
	if err != nil {
		return nil, err
	}

	devices, err := m.DeviceErrors(ctx, path)
	if err != nil {
		return nil, err
	}

	health, err := EvaluateHealth(status, subvolumes, devices)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate volume %s: %w", path, err)
	}

	return health, nil
}
