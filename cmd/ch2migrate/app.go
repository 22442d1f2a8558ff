package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/loykin/ch2migrate/cmd/ch2migrate/config"
	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/loykin/ch2migrate/internal/store"
	"github.com/spf13/viper"
)

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "ch2migrate.yaml"

// loadConfigDoc reads the config file and applies flag and environment
// overrides on top of it.
func loadConfigDoc() (*config.ConfigDoc, error) {
	v := viper.GetViper()
	doc := &config.ConfigDoc{}

	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := doc.Load(path); err != nil {
			return nil, newConfigError(err)
		}
	}

	if s := strings.TrimSpace(v.GetString("source")); s != "" {
		doc.Source = s
	}
	if s := strings.TrimSpace(v.GetString("scratch_dir")); s != "" {
		doc.ScratchDir = s
	}
	if s := strings.TrimSpace(v.GetString("target")); s != "" {
		doc.Target = config.TargetConfig{Type: migration.DriverSqlite, SQLite: config.SQLiteTargetConfig{Path: s}}
	}
	if s := strings.TrimSpace(v.GetString("compression")); s != "" {
		doc.Compression = s
	}
	if n := v.GetInt("from_version"); n != 0 {
		doc.FromVersion = n
	}
	if n := v.GetInt("to_version"); n != 0 {
		doc.ToVersion = n
	}
	if s := strings.TrimSpace(v.GetString("log_level")); s != "" {
		doc.Logging.Level = s
	}
	if s := strings.TrimSpace(v.GetString("log_format")); s != "" {
		doc.Logging.Format = s
	}
	return doc, nil
}

// setupLogging configures the global logger from the resolved config.
func setupLogging() error {
	doc, err := loadConfigDoc()
	if err != nil {
		return err
	}
	return newConfigError(doc.SetupLogging())
}

// openPipeline builds the pipeline for the resolved config together with
// its ledger. The caller closes the ledger.
func openPipeline() (*migration.Pipeline, *store.Store, error) {
	doc, err := loadConfigDoc()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := doc.Migration()
	if err != nil {
		return nil, nil, newConfigError(err)
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create scratch directory: %w", err)
	}
	ledger, err := store.Open(cfg.LedgerPath())
	if err != nil {
		return nil, nil, err
	}
	p, err := migration.NewPipeline(cfg, nil, ledger)
	if err != nil {
		_ = ledger.Close()
		if errors.Is(err, migration.ErrNoTransition) {
			return nil, nil, newConfigError(err)
		}
		return nil, nil, err
	}
	return p, ledger, nil
}

// openTarget resolves only the target section, for commands that work on
// an already migrated database.
func openTarget() (migration.Target, error) {
	doc, err := loadConfigDoc()
	if err != nil {
		return migration.Target{}, err
	}
	t, err := config.NewTargetFactory().CreateTarget(doc.Target)
	if err != nil {
		return migration.Target{}, newConfigError(err)
	}
	return t, nil
}
