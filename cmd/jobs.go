package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/config"
	"github.com/live-cpu/exhibition-sub000/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger scheduled jobs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's ledger entry for each scheduled job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dateKey := a.Scheduler.DateKey()
		rows, err := jobStatuses(ctx, a.Store, cfg.Scheduler.Jobs, dateKey)
		if err != nil {
			return err
		}
		formatJobStatuses(os.Stdout, dateKey, rows)
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a scheduled job now",
	Long:  "Runs the named job through the scheduler so the run is recorded on the ledger. Without --force the daily cap applies.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		force, _ := cmd.Flags().GetBool("force")

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.Scheduler.RunNow(ctx, args[0], force)
		if err != nil {
			return eris.Wrapf(err, "run job %s", args[0])
		}
		zap.L().Info("job finished", zap.String("job", args[0]), zap.String("outcome", string(outcome)))
		_, _ = fmt.Fprintln(os.Stdout, outcome)
		return nil
	},
}

func init() {
	jobsRunCmd.Flags().Bool("force", false, "bypass the daily cap")
	jobsCmd.AddCommand(jobsStatusCmd, jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

type jobStatus struct {
	Name     string
	At       string
	DailyCap int
	Runs     int
	LastRun  string
}

func jobStatuses(ctx context.Context, st store.Store, jobs []config.JobConfig, dateKey string) ([]jobStatus, error) {
	out := make([]jobStatus, 0, len(jobs))
	for _, j := range jobs {
		row := jobStatus{Name: j.Name, At: j.At, DailyCap: j.DailyCap, LastRun: "-"}
		run, err := st.GetJobRun(ctx, j.Name, dateKey)
		if err != nil {
			return nil, eris.Wrapf(err, "job status %s", j.Name)
		}
		if run != nil {
			row.Runs = run.RunsToday
			if run.LastRunAt != nil {
				row.LastRun = run.LastRunAt.Format("2006-01-02 15:04")
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func formatJobStatuses(out io.Writer, dateKey string, rows []jobStatus) {
	_, _ = fmt.Fprintf(out, "date: %s\n", dateKey)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tAT\tRUNS\tCAP\tLAST RUN")
	_, _ = fmt.Fprintln(w, "---\t--\t----\t---\t--------")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Name, r.At, r.Runs, r.DailyCap, r.LastRun)
	}
	_ = w.Flush()
}
