package main

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "exhibit",
	Short: "Exhibition listing aggregator",
	Long: `Pulls exhibition listings from the public culture feed, Naver search and an LLM,
normalizes venues and run periods, and merges them into one deduplicated set.

Configuration comes from config.yaml, .env and EXHIBIT_* variables; the log
flags below override the file for a single invocation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyLogFlags(c, cmd.Flags())

		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", c.Store.Driver),
			zap.String("timezone", c.Location().String()),
			zap.Strings("enabled_providers", enabledProviders(c)),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "override log.format (json, console)")
}

// applyLogFlags copies explicitly set log flags over the loaded config.
func applyLogFlags(c *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.Log.Format, _ = flags.GetString("log-format")
	}
}

func enabledProviders(c *config.Config) []string {
	var out []string
	for name, p := range c.Providers {
		if p.Enabled {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
