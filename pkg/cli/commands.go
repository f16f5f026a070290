package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/runningman84/btrfs-backup/pkg/operator"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "btrfs-backup version %s\n", Version)
		},
	}
}

func newBackupCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [JOB ...]",
		Short: "Run backup jobs (all configured jobs if omitted) and check their destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			op, closeFn, err := opts.newOperator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			return op.Backup(cmd.Context(), args...)
		},
	}
}

func newConfigureCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Create or update the btrfs-sxbackup definition of every configured job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, closeFn, err := opts.newOperator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			return op.Configure(cmd.Context())
		},
	}
}

func newInfoCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the btrfs-sxbackup status of a job (all jobs if --job is omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, closeFn, err := opts.newOperator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ids := []string{jobID}
			if jobID == "" {
				ids = op.JobIDs()
			}

			var errs error
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tFIELD\tVALUE")
			for _, id := range ids {
				status, exists, err := op.Info(cmd.Context(), id)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("job %s: %w", id, err))
					continue
				}
				if !exists {
					fmt.Fprintf(tw, "%s\t-\tnot configured\n", id)
					continue
				}

				fields := make([]string, 0, len(status))
				for field := range status {
					fields = append(fields, field)
				}
				sort.Strings(fields)
				for _, field := range fields {
					// continuation lines are aligned below the value column
					value := strings.ReplaceAll(status[field], "\n", "\n\t\t")
					fmt.Fprintf(tw, "%s\t%s\t%s\n", id, field, value)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			return errs
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job identifier")
	return cmd
}

func newCheckCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check [PATH ...]",
		Short: "Check the health of btrfs volumes (all job destinations if omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			op, closeFn, err := opts.newOperator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			paths := args
			if len(paths) == 0 {
				if paths, err = op.Destinations(); err != nil {
					return err
				}
			}

			var errs error
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tHEALTHY\tSNAPSHOTS\tTOTAL\tUSED\tEXCLUSIVE\tVIOLATIONS")
			for _, path := range paths {
				health, err := op.CheckVolume(cmd.Context(), path)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}

				violations := "-"
				if len(health.Violations) > 0 {
					violations = strings.Join(health.Violations, "; ")
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, operator.ErrUnhealthy))
				}
				fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%d\t%d\t%s\n",
					path, health.Healthy, health.SnapshotCount,
					health.Size.TotalBytes, health.Size.UsedBytes, health.Size.ExclusiveBytes, violations)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			return errs
		},
	}
}

func newPurgeCmd(opts *globalOptions) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove all snapshots and the btrfs-sxbackup definition of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return errors.New("--job is required")
			}

			op, closeFn, err := opts.newOperator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			return op.Purge(cmd.Context(), jobID)
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job identifier")
	return cmd
}
