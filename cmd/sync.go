package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/ingest"
)

var syncMaxNewInserts int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle across all enabled providers",
	Long:  "Fetches every enabled provider, normalizes venues and periods, and merges the batches in priority order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		limit := cfg.Sync.MaxNewInserts
		if cmd.Flags().Changed("max-new-inserts") {
			limit = syncMaxNewInserts
		}

		rep, err := a.Service.RunSyncCycle(ctx, ingest.SyncOptions{MaxNewInserts: limit})
		if rep != nil {
			formatCycleReport(os.Stdout, rep)
		}
		if err != nil {
			return eris.Wrap(err, "sync cycle")
		}

		t := rep.Totals()
		zap.L().Info("sync complete",
			zap.Int("created", t.Created),
			zap.Int("updated", t.Updated),
			zap.Int("removed", t.Removed),
			zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncMaxNewInserts, "max-new-inserts", 0, "cap on inserts per provider batch (default from config, 0 = unlimited)")
	rootCmd.AddCommand(syncCmd)
}

// formatCycleReport writes one row per provider to out.
func formatCycleReport(out io.Writer, rep *ingest.CycleReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tSTATUS\tFETCHED\tCREATED\tUPDATED\tREMOVED\tSKIPPED\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--------\t------\t-------\t-------\t-------\t-------\t-------\t------\t-----")

	for _, p := range rep.Providers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			p.Provider,
			p.Status,
			p.Fetched,
			p.Created,
			p.Updated,
			p.Removed,
			p.Skipped,
			p.Failed,
			truncate(p.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, adding "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
