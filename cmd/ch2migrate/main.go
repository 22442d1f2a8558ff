package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ch2migrate",
	Short: "Migrate a Choochoo SQLite database to the next schema version",
	Long: `ch2migrate carries a database across a schema version change in stages:
prepare-snapshot, prune, transform, extract, init-target, load and seed.
Each stage can be run on its own; "run" executes every stage not yet
recorded as completed in the ledger kept in the scratch directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	v := viper.GetViper()

	// Environment variables support: CH2MIGRATE_SOURCE, CH2MIGRATE_SCRATCH_DIR, ...
	v.SetEnvPrefix("CH2MIGRATE")
	v.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config yaml (default ./"+defaultConfigFile+" when present)")
	pf.String("source", "", "database to migrate (never written)")
	pf.String("scratch-dir", "", "directory for the working copy, dump and ledger")
	pf.String("target", "", "path of the new SQLite database to create")
	pf.String("compression", "", "dump compression: none, gzip or zstd")
	pf.Int("from-version", 0, "schema version of the source (default 25)")
	pf.Int("to-version", 0, "schema version to migrate to (default from-version + 1)")
	pf.String("log-level", "", "log level: error, warn, info, debug")
	pf.String("log-format", "", "log format: text, json, color")

	for key, flag := range map[string]string{
		"config":       "config",
		"source":       "source",
		"scratch_dir":  "scratch-dir",
		"target":       "target",
		"compression":  "compression",
		"from_version": "from-version",
		"to_version":   "to-version",
		"log_level":    "log-level",
		"log_format":   "log-format",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return newConfigError(err)
	})

	for _, c := range stageCommands() {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(constantsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
