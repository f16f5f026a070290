package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `jobDefaults:
  sourceRetention: "1d:4/d, 1w:daily, 2m:none"
  destinationRetention: "1d:4/d, 1w:daily, 1m:weekly, 2m:none"
jobs:
  web:
    source: ssh://web01/srv
    destination: /backup/web
  home:
    source: ssh://nas/home
    destination: /backup/home
    destinationRetention: "1w:daily, 6m:monthly"
  db:
    destination: /backup/db
history:
  database: /var/lib/btrfs-backup/history.db
commandTimeout: 2h
lockFile: /run/btrfs-backup.lock
enableLocking: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		dfCmd     []string
		runPrefix string
	}{
		{
			name:      "direct mode",
			mode:      ModeDirect,
			dfCmd:     []string{"btrfs", "filesystem", "df", "-b"},
			runPrefix: "btrfs-sxbackup",
		},
		{
			name:      "chroot mode",
			mode:      ModeChroot,
			dfCmd:     []string{"chroot", "/host", "btrfs", "filesystem", "df", "-b"},
			runPrefix: "chroot",
		},
		{
			name:      "test mode",
			mode:      ModeTest,
			dfCmd:     []string{"cat", filepath.Join("test", "btrfs_filesystem_df.txt")},
			runPrefix: "cat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DATA_DIR", "")
			t.Setenv("LOG_LEVEL", "")
			cfg := NewConfig(tt.mode)

			if cfg.Mode != tt.mode {
				t.Errorf("Mode = %v, want %v", cfg.Mode, tt.mode)
			}
			if cfg.LogLevel != "info" {
				t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
			}
			if strings.Join(cfg.BtrfsFilesystemDfCmd, " ") != strings.Join(tt.dfCmd, " ") {
				t.Errorf("BtrfsFilesystemDfCmd = %v, want %v", cfg.BtrfsFilesystemDfCmd, tt.dfCmd)
			}
			if cfg.SxbackupRunCmd[0] != tt.runPrefix {
				t.Errorf("SxbackupRunCmd = %v, want prefix %s", cfg.SxbackupRunCmd, tt.runPrefix)
			}
			if len(cfg.BtrfsDuCmd) == 0 || len(cfg.BtrfsDeviceStatsCmd) == 0 || len(cfg.SxbackupInfoCmd) == 0 {
				t.Error("command not initialised")
			}
		})
	}
}

func TestNewConfig_TestModeDisablesLocking(t *testing.T) {
	t.Setenv("ENABLE_LOCKING", "")

	if NewConfig(ModeTest).EnableLocking {
		t.Error("EnableLocking should be false in test mode")
	}
	if !NewConfig(ModeDirect).EnableLocking {
		t.Error("EnableLocking should be true in direct mode")
	}
}

func TestWithArgsDoesNotAlias(t *testing.T) {
	base := make([]string, 1, 10)
	base[0] = "btrfs"

	a := WithArgs(base, "one")
	b := WithArgs(base, "two")

	if a[1] != "one" || b[1] != "two" {
		t.Errorf("WithArgs() aliasing: a=%v b=%v", a, b)
	}
}

func TestLoad(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "COMMAND_TIMEOUT", "HISTORY_DATABASE", "LOCK_FILE", "ENABLE_LOCKING", "DRY_RUN"} {
		t.Setenv(key, "")
	}
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path, ModeDirect)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantIDs := []string{"web", "home", "db"}
	ids := cfg.JobIDs()
	if strings.Join(ids, ",") != strings.Join(wantIDs, ",") {
		t.Errorf("JobIDs() = %v, want %v", ids, wantIDs)
	}

	if cfg.HistoryDatabase != "/var/lib/btrfs-backup/history.db" {
		t.Errorf("HistoryDatabase = %s", cfg.HistoryDatabase)
	}
	if cfg.CommandTimeout != 2*time.Hour {
		t.Errorf("CommandTimeout = %s, want 2h", cfg.CommandTimeout)
	}
	if cfg.LockFilePath != "/run/btrfs-backup.lock" {
		t.Errorf("LockFilePath = %s", cfg.LockFilePath)
	}
	if cfg.EnableLocking {
		t.Error("EnableLocking = true, want false from file")
	}
}

func TestJobMergesDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path, ModeDirect)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		id                   string
		source               string
		destination          string
		sourceRetention      string
		destinationRetention string
	}{
		{
			id:                   "web",
			source:               "ssh://web01/srv",
			destination:          "/backup/web",
			sourceRetention:      "1d:4/d, 1w:daily, 2m:none",
			destinationRetention: "1d:4/d, 1w:daily, 1m:weekly, 2m:none",
		},
		{
			id:                   "home",
			source:               "ssh://nas/home",
			destination:          "/backup/home",
			sourceRetention:      "1d:4/d, 1w:daily, 2m:none",
			destinationRetention: "1w:daily, 6m:monthly",
		},
		{
			id:                   "db",
			destination:          "/backup/db",
			sourceRetention:      "1d:4/d, 1w:daily, 2m:none",
			destinationRetention: "1d:4/d, 1w:daily, 1m:weekly, 2m:none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			job, err := cfg.Job(tt.id)
			if err != nil {
				t.Fatalf("Job(%s) error = %v", tt.id, err)
			}
			if job.ID != tt.id {
				t.Errorf("ID = %s, want %s", job.ID, tt.id)
			}
			if job.Source != tt.source {
				t.Errorf("Source = %s, want %s", job.Source, tt.source)
			}
			if job.Destination != tt.destination {
				t.Errorf("Destination = %s, want %s", job.Destination, tt.destination)
			}
			if job.SourceRetention != tt.sourceRetention {
				t.Errorf("SourceRetention = %s, want %s", job.SourceRetention, tt.sourceRetention)
			}
			if job.DestinationRetention != tt.destinationRetention {
				t.Errorf("DestinationRetention = %s, want %s", job.DestinationRetention, tt.destinationRetention)
			}
		})
	}
}

func TestJobDoesNotMutateDefaults(t *testing.T) {
	cfg := NewConfig(ModeTest)
	cfg.JobDefaults = map[string]interface{}{"destinationRetention": "1w:daily"}
	cfg.SetJob("a", map[string]interface{}{"destination": "/a", "destinationRetention": "2w:daily"})
	cfg.SetJob("b", map[string]interface{}{"destination": "/b"})

	if _, err := cfg.Job("a"); err != nil {
		t.Fatalf("Job(a) error = %v", err)
	}
	b, err := cfg.Job("b")
	if err != nil {
		t.Fatalf("Job(b) error = %v", err)
	}
	if b.DestinationRetention != "1w:daily" {
		t.Errorf("DestinationRetention = %s, want 1w:daily", b.DestinationRetention)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing destination",
			content: "jobs:\n  web:\n    source: ssh://web01/srv\n",
			wantErr: "destination is required",
		},
		{
			name:    "unknown job key",
			content: "jobs:\n  web:\n    destination: /backup/web\n    compres: true\n",
			wantErr: "compres",
		},
		{
			name:    "jobs is a list",
			content: "jobs:\n  - web\n",
			wantErr: "jobs must be a mapping",
		},
		{
			name:    "invalid timeout",
			content: "commandTimeout: soon\n",
			wantErr: "invalid commandTimeout",
		},
		{
			name:    "invalid yaml",
			content: "jobs: [\n",
			wantErr: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path, ModeDirect)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), ModeDirect); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadInvalidMode(t *testing.T) {
	path := writeConfig(t, "jobs: {}\n")
	if _, err := Load(path, "remote"); err == nil {
		t.Error("Load() expected error for invalid mode")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT", "30m")
	t.Setenv("HISTORY_DATABASE", "/tmp/override.db")
	t.Setenv("ENABLE_LOCKING", "true")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path, ModeDirect)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CommandTimeout != 30*time.Minute {
		t.Errorf("CommandTimeout = %s, want 30m", cfg.CommandTimeout)
	}
	if cfg.HistoryDatabase != "/tmp/override.db" {
		t.Errorf("HistoryDatabase = %s, want /tmp/override.db", cfg.HistoryDatabase)
	}
	if !cfg.EnableLocking {
		t.Error("EnableLocking = false, want true from environment")
	}
	if !cfg.IsDebug() {
		t.Error("IsDebug() = false, want true")
	}
}

func TestInvalidEnvironmentValuesFallBack(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT", "forever")
	t.Setenv("DRY_RUN", "maybe")

	cfg := NewConfig(ModeDirect)
	if cfg.CommandTimeout != 0 {
		t.Errorf("CommandTimeout = %s, want 0", cfg.CommandTimeout)
	}
	if cfg.DryRun {
		t.Error("DryRun = true, want false")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("BACKUP_CONFIG", "")
	if got := Path(""); got != DefaultConfigFile {
		t.Errorf("Path() = %s, want %s", got, DefaultConfigFile)
	}

	t.Setenv("BACKUP_CONFIG", "/etc/btrfs-backup.yaml")
	if got := Path(""); got != "/etc/btrfs-backup.yaml" {
		t.Errorf("Path() = %s, want /etc/btrfs-backup.yaml", got)
	}
	if got := Path("custom.yaml"); got != "custom.yaml" {
		t.Errorf("Path() = %s, want custom.yaml", got)
	}
}

func TestJobNotConfigured(t *testing.T) {
	cfg := NewConfig(ModeTest)
	if _, err := cfg.Job("missing"); err == nil {
		t.Error("Job() expected error for unknown job")
	}
}
