package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/live-cpu/exhibition-sub000/internal/ingest"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Resolve periods of stored exhibitions that have none",
	Long:  "Looks up run periods for period-unknown exhibitions through the configured search lookups, within the repair budget.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("repair"); err != nil {
			return err
		}

		sources, _ := cmd.Flags().GetStringSlice("source")
		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force")
		if limit <= 0 {
			limit = cfg.Repair.Limit
		}

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Service.RunPeriodRepair(ctx, ingest.RepairOptions{
			Sources: sources,
			Limit:   limit,
			Force:   force,
		})
		if rep != nil {
			formatRepairReport(os.Stdout, rep)
		}
		return eris.Wrap(err, "period repair")
	},
}

func init() {
	repairCmd.Flags().StringSlice("source", nil, "only repair records from these sources")
	repairCmd.Flags().Int("limit", 0, "max records to revisit (default from config)")
	repairCmd.Flags().Bool("force", false, "ignore the per-record retry cooldown")
	rootCmd.AddCommand(repairCmd)
}

func formatRepairReport(w io.Writer, rep *ingest.RepairReport) {
	_, _ = fmt.Fprintf(w, "candidates=%d attempted=%d resolved=%d unresolved=%d failed=%d",
		rep.Candidates, rep.Attempted, rep.Resolved, rep.Unresolved, rep.Failed)
	if rep.BudgetExhausted {
		_, _ = fmt.Fprint(w, " (budget exhausted)")
	}
	if rep.BreakerOpen {
		_, _ = fmt.Fprint(w, " (lookups unavailable)")
	}
	_, _ = fmt.Fprintln(w)
}
