package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled sync and repair jobs until interrupted",
	Long:  "Evaluates the configured jobs every tick. Daily caps are enforced through the persistent ledger, and an instance lock keeps a second daemon on this host from starting.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("daemon"); err != nil {
			return err
		}

		lock, err := scheduler.AcquireInstanceLock(cfg.Scheduler.LockPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				zap.L().Warn("release instance lock", zap.Error(err))
			}
		}()

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		zap.L().Info("daemon started", zap.String("lock", lock.Path()))
		if err := a.Scheduler.Start(ctx); err != nil {
			return eris.Wrap(err, "scheduler")
		}
		zap.L().Info("daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
