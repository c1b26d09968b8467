package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, store.Config{
			Driver:      cfg.Store.Driver,
			DatabaseURL: cfg.Store.DatabaseURL,
			MaxConns:    cfg.Store.MaxConns,
			MinConns:    cfg.Store.MinConns,
		})
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer func() { _ = st.Close() }()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
