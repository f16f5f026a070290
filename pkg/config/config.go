package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/runningman84/btrfs-backup/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is used when neither --config nor BACKUP_CONFIG is set
const DefaultConfigFile = "config.yaml"

// Modes
const (
	ModeDirect = "direct"
	ModeChroot = "chroot"
	ModeTest   = "test"
)

// Config holds the application configuration
type Config struct {
	Mode     string
	LogLevel string
	DryRun   bool

	// Locking
	EnableLocking bool
	LockFilePath  string

	// Timeout applied to every external command (0 = no timeout)
	CommandTimeout time.Duration

	// SQLite database for job run history (empty = disabled)
	HistoryDatabase string

	// Directory holding command output fixtures in test mode
	TestDataDir string

	// Jobs
	JobDefaults map[string]interface{}
	jobOrder    []string
	jobs        map[string]map[string]interface{}

	// Commands
	BtrfsFilesystemDfCmd []string
	BtrfsDuCmd           []string
	BtrfsDeviceStatsCmd  []string
	SxbackupInfoCmd      []string
	SxbackupRunCmd       []string
	SxbackupInitCmd      []string
	SxbackupUpdateCmd    []string
	SxbackupPurgeCmd     []string
}

// fileConfig is the on-disk YAML layout
type fileConfig struct {
	JobDefaults map[string]interface{} `yaml:"jobDefaults"`
	Jobs        yaml.Node              `yaml:"jobs"`
	History     struct {
		Database string `yaml:"database"`
	} `yaml:"history"`
	CommandTimeout string `yaml:"commandTimeout"`
	LockFile       string `yaml:"lockFile"`
	EnableLocking  *bool  `yaml:"enableLocking"`
	DryRun         *bool  `yaml:"dryRun"`
}

// NewConfig creates a new configuration with default values and environment overrides
func NewConfig(mode string) *Config {
	cfg := newDefaults(mode)
	cfg.applyEnv()
	return cfg
}

// Load reads the YAML configuration file at path.
// Priority: environment variables > config file > defaults
func Load(path, mode string) (*Config, error) {
	cfg := newDefaults(mode)

	if err := cfg.loadFromFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path resolves the configuration file path from a flag value, BACKUP_CONFIG or the default
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnvAsString("BACKUP_CONFIG", DefaultConfigFile)
}

// DefaultLogLevel returns the log level from LOG_LEVEL, or info when unset
func DefaultLogLevel() string {
	return getEnvAsString("LOG_LEVEL", "info")
}

func newDefaults(mode string) *Config {
	testMode := mode == ModeTest

	cfg := &Config{
		Mode:          mode,
		LogLevel:      "info",
		EnableLocking: !testMode,
		LockFilePath:  filepath.Join(os.TempDir(), "btrfs-backup.lock"),
		TestDataDir:   getEnvAsString("TEST_DATA_DIR", "test"),
		JobDefaults:   map[string]interface{}{},
		jobs:          map[string]map[string]interface{}{},
	}
	cfg.setCommands()

	return cfg
}

func (c *Config) setCommands() {
	if c.Mode == ModeTest {
		fixture := func(name string) []string {
			return []string{"cat", filepath.Join(c.TestDataDir, name)}
		}
		c.BtrfsFilesystemDfCmd = fixture("btrfs_filesystem_df.txt")
		c.BtrfsDuCmd = fixture("btrfs_du.txt")
		c.BtrfsDeviceStatsCmd = fixture("btrfs_device_stats.txt")
		c.SxbackupInfoCmd = fixture("sxbackup_info.txt")
		c.SxbackupRunCmd = fixture("sxbackup_run.txt")
		c.SxbackupInitCmd = []string{"true"}
		c.SxbackupUpdateCmd = []string{"true"}
		c.SxbackupPurgeCmd = []string{"true"}
		return
	}

	var prefix []string
	if c.Mode == ModeChroot {
		prefix = []string{"chroot", "/host"}
	}
	btrfsBin := WithArgs(prefix, "btrfs")
	duBin := WithArgs(prefix, "btrfs-du")
	sxBin := WithArgs(prefix, "btrfs-sxbackup")

	c.BtrfsFilesystemDfCmd = WithArgs(btrfsBin, "filesystem", "df", "-b")
	c.BtrfsDuCmd = WithArgs(duBin, "-b")
	c.BtrfsDeviceStatsCmd = WithArgs(btrfsBin, "device", "stats", "-c")
	c.SxbackupInfoCmd = WithArgs(sxBin, "info")
	c.SxbackupRunCmd = WithArgs(sxBin, "run")
	c.SxbackupInitCmd = WithArgs(sxBin, "init")
	c.SxbackupUpdateCmd = WithArgs(sxBin, "update")
	c.SxbackupPurgeCmd = WithArgs(sxBin, "purge")
}

// WithArgs returns a new slice holding cmd followed by args
func WithArgs(cmd []string, args ...string) []string {
	result := make([]string, 0, len(cmd)+len(args))
	result = append(result, cmd...)
	return append(result, args...)
}

// loadFromFile loads configuration from a YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if fc.JobDefaults != nil {
		c.JobDefaults = fc.JobDefaults
	}
	if err := c.setJobs(&fc.Jobs); err != nil {
		return err
	}

	if fc.History.Database != "" {
		c.HistoryDatabase = fc.History.Database
	}
	if fc.CommandTimeout != "" {
		timeout, err := time.ParseDuration(fc.CommandTimeout)
		if err != nil {
			return fmt.Errorf("invalid commandTimeout %q: %w", fc.CommandTimeout, err)
		}
		c.CommandTimeout = timeout
	}
	if fc.LockFile != "" {
		c.LockFilePath = fc.LockFile
	}
	if fc.EnableLocking != nil {
		c.EnableLocking = *fc.EnableLocking
	}
	if fc.DryRun != nil {
		c.DryRun = *fc.DryRun
	}

	return nil
}

// setJobs keeps the jobs in the order they appear in the file
func (c *Config) setJobs(node *yaml.Node) error {
	c.jobOrder = nil
	c.jobs = map[string]map[string]interface{}{}

	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs must be a mapping (line %d)", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var fields map[string]interface{}
		if err := node.Content[i+1].Decode(&fields); err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
		if _, exists := c.jobs[id]; !exists {
			c.jobOrder = append(c.jobOrder, id)
		}
		c.jobs[id] = fields
	}

	return nil
}

// SetJob adds or replaces a job definition
func (c *Config) SetJob(id string, fields map[string]interface{}) {
	if _, exists := c.jobs[id]; !exists {
		c.jobOrder = append(c.jobOrder, id)
	}
	c.jobs[id] = fields
}

// JobIDs returns the configured job identifiers in file order
func (c *Config) JobIDs() []string {
	ids := make([]string, len(c.jobOrder))
	copy(ids, c.jobOrder)
	return ids
}

// Job builds the backup job for id by merging its fields over the job defaults
func (c *Config) Job(id string) (*models.BackupJob, error) {
	fields, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s is not configured", id)
	}

	merged := make(map[string]interface{}, len(c.JobDefaults)+len(fields))
	for k, v := range c.JobDefaults {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	job := &models.BackupJob{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           job,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}

	job.ID = id
	if job.Destination == "" {
		return nil, fmt.Errorf("job %s: destination is required", id)
	}

	return job, nil
}

// Validate checks the mode, log level and every job definition
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDirect, ModeChroot, ModeTest:
	default:
		return fmt.Errorf("invalid mode: %s. Must be one of: test, direct, chroot", c.Mode)
	}

	if c.LogLevel != "info" && c.LogLevel != "debug" {
		return fmt.Errorf("invalid log level: %s. Must be one of: info, debug", c.LogLevel)
	}

	for _, id := range c.jobOrder {
		if _, err := c.Job(id); err != nil {
			return err
		}
	}

	return nil
}

// IsDebug reports whether command tracing is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnvAsString("LOG_LEVEL", c.LogLevel)
	c.CommandTimeout = getEnvAsDuration("COMMAND_TIMEOUT", c.CommandTimeout)
	c.HistoryDatabase = getEnvAsString("HISTORY_DATABASE", c.HistoryDatabase)
	c.LockFilePath = getEnvAsString("LOCK_FILE", c.LockFilePath)
	c.EnableLocking = getEnvAsBool("ENABLE_LOCKING", c.EnableLocking)
	c.DryRun = getEnvAsBool("DRY_RUN", c.DryRun)
}

// getEnvAsString reads an environment variable or returns the default value if not set
func getEnvAsString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool reads an environment variable and returns it as a boolean,
// or returns the default value if not set or invalid
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration reads an environment variable as a Go duration,
// or returns the default value if not set or invalid
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
