package operator

import (
	"context"

	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/sxbackup"
)

// mockVolumes is a mock implementation of VolumeChecker for testing
type mockVolumes struct {
	health       *models.VolumeHealth
	report       *models.SubvolumesReport
	checkError   error
	reportError  error
	checkedPaths []string
}

func (m *mockVolumes) Check(ctx context.Context, path string) (*models.VolumeHealth, error) {
	m.checkedPaths = append(m.checkedPaths, path)
	if m.checkError != nil {
		return nil, m.checkError
	}
	return m.health, nil
}

func (m *mockVolumes) SubvolumesReport(ctx context.Context, path string) (*models.SubvolumesReport, error) {
	if m.reportError != nil {
		return nil, m.reportError
	}
	return m.report, nil
}

// mockDriver is a mock implementation of BackupDriver for testing
type mockDriver struct {
	status      models.JobStatus
	exists      bool
	snapshot    string
	infoError   error
	runErrors   map[string]error
	configError error
	purgeError  error
	runURLs     []string
	configured  map[string]sxbackup.Action
	purgedURLs  []string
}

func (m *mockDriver) Info(ctx context.Context, url string) (models.JobStatus, bool, error) {
	if m.infoError != nil {
		return nil, false, m.infoError
	}
	if !m.exists {
		return nil, false, nil
	}
	return m.status, true, nil
}

func (m *mockDriver) Run(ctx context.Context, url string) (string, error) {
	m.runURLs = append(m.runURLs, url)
	if err := m.runErrors[url]; err != nil {
		return "", err
	}
	return m.snapshot, nil
}

func (m *mockDriver) Configure(ctx context.Context, action sxbackup.Action, job *models.BackupJob) error {
	if m.configError != nil {
		return m.configError
	}
	if m.configured == nil {
		m.configured = map[string]sxbackup.Action{}
	}
	m.configured[job.ID] = action
	return nil
}

func (m *mockDriver) Purge(ctx context.Context, url string) error {
	if m.purgeError != nil {
		return m.purgeError
	}
	m.purgedURLs = append(m.purgedURLs, url)
	return nil
}

// mockRecorder collects recorded job runs
type mockRecorder struct {
	runs []*models.JobRun
}

func (m *mockRecorder) RecordRun(run *models.JobRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func healthyVolume() *models.VolumeHealth {
	return &models.VolumeHealth{
		Healthy:       true,
		Violations:    []string{},
		SnapshotCount: 3,
		Size:          models.VolumeSize{TotalBytes: 4096, UsedBytes: 2048, ExclusiveBytes: 24576},
	}
}

func usageReport() *models.SubvolumesReport {
	return &models.SubvolumesReport{
		ExclusiveBytes: 24576,
		Subvolumes: map[string]*models.SubvolumeUsage{
			"sx-20240103-000000-utc": {Name: "sx-20240103-000000-utc", TotalBytes: 1073750016, ExclusiveBytes: 12288},
		},
	}
}

func fixedDiskSpace(path string) (*models.DiskSpace, error) {
	return &models.DiskSpace{TotalBytes: 1 << 40, AvailableBytes: 1 << 39}, nil
}
