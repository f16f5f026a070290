package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/zapr"
	"github.com/runningman84/btrfs-backup/pkg/config"
	"github.com/runningman84/btrfs-backup/pkg/history"
	"github.com/runningman84/btrfs-backup/pkg/operator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
)

// Version can be set at build time using -ldflags
// Example: go build -ldflags="-X github.com/runningman84/btrfs-backup/pkg/cli.Version=1.0.0"
var Version = "dev"

// globalOptions holds the persistent flags shared by all subcommands
type globalOptions struct {
	configPath string
	mode       string
	logLevel   string
	logFormat  string
	dryRun     bool
	timeout    time.Duration

	klogFlags *flag.FlagSet
	zapLog    *zap.Logger
}

func newGlobalOptions() *globalOptions {
	opts := &globalOptions{klogFlags: flag.NewFlagSet("klog", flag.ContinueOnError)}
	klog.InitFlags(opts.klogFlags)
	return opts
}

// NewRootCmd returns the root cobra command for the btrfs-backup CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRootCmd(stdout, stderr, newGlobalOptions())
}

func newRootCmd(stdout, stderr io.Writer, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "btrfs-backup",
		Short:         "Run btrfs-sxbackup jobs and check the health of their btrfs destinations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to the configuration file (default $BACKUP_CONFIG or config.yaml)")
	flags.StringVar(&opts.mode, "mode", config.ModeDirect, "Operation mode: test, direct, or chroot")
	flags.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel(), "Log level: info or debug (overrides $LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Enable dry-run mode (no run, configure or purge is executed)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Timeout for every external command (0 = none)")
	flags.AddGoFlagSet(opts.klogFlags)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newBackupCmd(opts))
	cmd.AddCommand(newConfigureCmd(opts))
	cmd.AddCommand(newInfoCmd(opts, stdout))
	cmd.AddCommand(newCheckCmd(opts, stdout))
	cmd.AddCommand(newPurgeCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts, stdout))

	return cmd
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	opts := newGlobalOptions()
	root := newRootCmd(os.Stdout, os.Stderr, opts)
	if err := execute(root, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// execute runs root and flushes the loggers, also when the command failed
func execute(root *cobra.Command, opts *globalOptions) error {
	defer opts.flushLogging()
	return root.Execute()
}

func (o *globalOptions) setupLogging() error {
	if o.logLevel != "info" && o.logLevel != "debug" {
		return fmt.Errorf("invalid log level: %s. Must be one of: info, debug", o.logLevel)
	}
	if o.logFormat != "text" && o.logFormat != "json" {
		return fmt.Errorf("invalid log format: %s. Must be one of: text, json", o.logFormat)
	}

	if o.logFormat == "json" {
		var err error
		if o.logLevel == "debug" {
			o.zapLog, err = zap.NewDevelopment()
		} else {
			o.zapLog, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("failed to initialize JSON logger: %w", err)
		}

		// Set klog to use zap backend for JSON output
		klog.SetLogger(zapr.NewLogger(o.zapLog))
	}

	if o.logLevel == "debug" {
		if err := o.klogFlags.Set("v", "1"); err != nil {
			return err
		}
	}

	return nil
}

func (o *globalOptions) flushLogging() {
	klog.Flush()
	if o.zapLog != nil {
		_ = o.zapLog.Sync()
	}
}

// loadConfig reads the configuration file and applies the command line flags on top
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Path(o.configPath), o.mode)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	// the flag default already carries LOG_LEVEL
	cfg.LogLevel = o.logLevel
	if flags.Changed("timeout") {
		cfg.CommandTimeout = o.timeout
	}
	if o.dryRun {
		cfg.DryRun = true
		klog.Infof("Dry-run mode enabled via command-line flag")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newOperator builds the operator and opens the history database when one is configured.
// The returned close function must be called once the command is done.
func (o *globalOptions) newOperator(cmd *cobra.Command) (*operator.Operator, func(), error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	klog.Infof("Starting btrfs-backup version %s in %s mode with %s log level", Version, cfg.Mode, cfg.LogLevel)

	op := operator.NewOperator(cfg)
	if cfg.HistoryDatabase == "" || cfg.DryRun {
		return op, func() {}, nil
	}

	db, err := history.Open(cfg.HistoryDatabase)
	if err != nil {
		return nil, nil, err
	}
	op.SetHistory(db)

	return op, func() {
		if err := db.Close(); err != nil {
			klog.ErrorS(err, "Failed to close history database", "path", cfg.HistoryDatabase)
		}
	}, nil
}
