package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/live-cpu/exhibition-sub000/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"sync", "repair", "jobs", "daemon", "serve", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "exhibit", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_LogFlags(t *testing.T) {
	for _, name := range []string{"log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "expected persistent flag --%s", name)
	}
	assert.True(t, rootCmd.SilenceUsage)
}

func TestApplyLogFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("log-format", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	c := &config.Config{Log: config.LogConfig{Level: "info", Format: "json"}}
	applyLogFlags(c, flags)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format, "unset flags leave the file value")
}

func TestEnabledProviders(t *testing.T) {
	c := &config.Config{Providers: map[string]config.ProviderConfig{
		"naver":   {Enabled: true},
		"culture": {Enabled: true},
		"llm":     {Enabled: false},
	}}
	assert.Equal(t, []string{"culture", "naver"}, enabledProviders(c))
}

func TestSyncCommand_Flags(t *testing.T) {
	flag := syncCmd.Flags().Lookup("max-new-inserts")
	require.NotNil(t, flag, "sync command should have --max-new-inserts flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRepairCommand_Flags(t *testing.T) {
	for _, name := range []string{"source", "limit", "force"} {
		assert.NotNil(t, repairCmd.Flags().Lookup(name), "repair command should have --%s flag", name)
	}
	assert.Equal(t, "false", repairCmd.Flags().Lookup("force").DefValue)
}

func TestJobsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range jobsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["run"])

	require.NotNil(t, jobsRunCmd.Flags().Lookup("force"))
	assert.Error(t, jobsRunCmd.Args(jobsRunCmd, nil), "run requires a job name")
	assert.NoError(t, jobsRunCmd.Args(jobsRunCmd, []string{"sync"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "국립현...", truncate("국립현대미술관 서울관", 6))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "", truncate("", 5))
}
