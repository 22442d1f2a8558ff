// Package config holds the ch2migrate configuration file format and turns it
// into the settings a migration pipeline runs with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/loykin/ch2migrate/internal/seed"
	"github.com/loykin/ch2migrate/internal/store/postgresql"
	"github.com/loykin/ch2migrate/internal/util"
	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type SQLiteTargetConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// TargetConfig selects the database the migrated data is loaded into.
type TargetConfig struct {
	Type     string             `mapstructure:"type" yaml:"type"` // sqlite (default) or postgresql
	SQLite   SQLiteTargetConfig `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres postgresql.Config  `mapstructure:"postgres" yaml:"postgres"`
}

type ConfigDoc struct {
	// Source is the database to migrate. It is never written.
	Source string `mapstructure:"source" yaml:"source"`
	// ScratchDir holds the working copy, dump artifact and ledger.
	// Defaults to a "ch2migrate" directory next to the source.
	ScratchDir  string        `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	FromVersion int           `mapstructure:"from_version" yaml:"from_version"`
	ToVersion   int           `mapstructure:"to_version" yaml:"to_version"`
	Compression string        `mapstructure:"compression" yaml:"compression"` // none, gzip, zstd
	Target      TargetConfig  `mapstructure:"target" yaml:"target"`
	Logging     LoggingConfig `mapstructure:"logging" yaml:"logging"`
	// Seed overrides the built-in activity groups and constants.
	Seed map[string]any `mapstructure:"seed" yaml:"seed"`
}

func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode %s: %w", clean, err)
	}
	return nil
}

// ApplyDefaults fills the versions and scratch directory when unset.
func (c *ConfigDoc) ApplyDefaults() {
	if c.FromVersion == 0 {
		c.FromVersion = constants.DefaultFromVersion
	}
	if c.ToVersion == 0 {
		c.ToVersion = c.FromVersion + 1
	}
	if strings.TrimSpace(c.ScratchDir) == "" && strings.TrimSpace(c.Source) != "" {
		c.ScratchDir = filepath.Join(filepath.Dir(c.Source), "ch2migrate")
	}
}

// Migration converts the document into a pipeline configuration.
func (c *ConfigDoc) Migration() (migration.Config, error) {
	c.ApplyDefaults()
	defaults, err := seed.DecodeDefaults(c.Seed)
	if err != nil {
		return migration.Config{}, err
	}
	target, err := NewTargetFactory().CreateTarget(c.Target)
	if err != nil {
		return migration.Config{}, err
	}
	cfg := migration.Config{
		Source:      util.ExpandPath(c.Source),
		ScratchDir:  util.ExpandPath(c.ScratchDir),
		From:        c.FromVersion,
		To:          c.ToVersion,
		Target:      target,
		Compression: c.Compression,
		Seed:        defaults,
	}
	if err := cfg.Validate(); err != nil {
		return migration.Config{}, err
	}
	return cfg, nil
}

func (c *ConfigDoc) parseLogLevel() (common.LogLevel, error) {
	level, ok := common.ParseLogLevel(util.TrimAndLower(c.Logging.Level))
	if !ok {
		return common.LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}
	return level, nil
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	level, err := c.parseLogLevel()
	if err != nil {
		return err
	}

	var logger *common.Logger
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))

	useColor := false
	if c.Logging.Color != nil {
		useColor = *c.Logging.Color
	} else if format == "color" || format == "colour" {
		useColor = true
	}

	switch format {
	case "json":
		logger = common.NewJSONLogger(level)
	case "color", "colour":
		logger = common.NewColorLogger(level)
	case "text", "":
		if useColor {
			logger = common.NewColorLogger(level)
		} else {
			logger = common.NewLogger(level)
		}
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	common.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)

	logger.Debug("logging configured",
		"level", level.String(),
		"format", format,
		"color", useColor,
		"mask_sensitive", maskingEnabled)
	return nil
}
