package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/runningman84/btrfs-backup/pkg/history"
	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/timing"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var jobID, output string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded backup job runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must be >= 0")
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.HistoryDatabase == "" {
				return errors.New("no history database configured (history.database or HISTORY_DATABASE)")
			}

			db, err := history.Open(cfg.HistoryDatabase)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(jobID, limit)
			if err != nil {
				return err
			}

			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			case "table", "":
				return renderRuns(stdout, runs)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only list runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

func renderRuns(w io.Writer, runs []*models.JobRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tSTARTED\tSTATUS\tSTAGE\tSNAPSHOT\tDURATION\tDETAILS")
	for _, r := range runs {
		details := r.Error
		if details == "" {
			details = strings.Join(r.Violations, "; ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.3fs\t%s\n",
			r.ID, r.JobID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Stage,
			dash(r.Snapshot), r.Durations[timing.TotalKey], dash(details))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
