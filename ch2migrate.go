// Package ch2migrate migrates a Choochoo SQLite database across schema
// versions. The heavy lifting lives in internal packages; this package
// re-exports what library users need to run a migration in process.
package ch2migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/loykin/ch2migrate/internal/seed"
	"github.com/loykin/ch2migrate/internal/store"
	"github.com/loykin/ch2migrate/internal/store/connector"
)

// Config describes one migration run.
type Config = migration.Config

// Target is the database migrated data is loaded into.
type Target = migration.Target

// Pipeline runs the migration stages against a ledger.
type Pipeline = migration.Pipeline

// RunOptions selects which stages a run executes.
type RunOptions = migration.RunOptions

// Registry maps version pairs to transitions.
type Registry = migration.Registry

// Transition describes what changes between two adjacent versions.
type Transition = migration.Transition

// Ledger records completed stages and the run history.
type Ledger = store.Store

// Defaults is the seed configuration: activity groups and constants.
type Defaults = seed.Defaults

// Constants reads and writes time-varying constants in a migrated database.
type Constants = seed.Constants

// Logger is the structured logger used by every stage.
type Logger = common.Logger

const (
	DriverSqlite     = migration.DriverSqlite
	DriverPostgresql = migration.DriverPostgresql
)

// Failure classes. Match with errors.Is.
var (
	ErrSnapshot           = migerr.ErrSnapshot
	ErrIntegrity          = migerr.ErrIntegrity
	ErrStructuralMismatch = migerr.ErrStructuralMismatch
	ErrSerialization      = migerr.ErrSerialization
	ErrReplay             = migerr.ErrReplay
	ErrNoTransition       = migration.ErrNoTransition
	ErrUndefinedConstant  = seed.ErrUndefined
)

// SqliteTarget returns a target writing a new SQLite file at path.
func SqliteTarget(path string) Target { return migration.SqliteTarget(path) }

// DefaultRegistry holds every built-in transition.
func DefaultRegistry() *Registry { return migration.DefaultRegistry() }

// DefaultSeed returns the built-in activity groups and constants.
func DefaultSeed() Defaults { return seed.DefaultConfig() }

// OpenLedger opens (creating if needed) the ledger kept in cfg's scratch
// directory.
func OpenLedger(cfg Config) (*Ledger, error) {
	if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return store.Open(cfg.LedgerPath())
}

// NewPipeline binds cfg to its transition in reg (nil means the default
// registry). A nil ledger disables resume.
func NewPipeline(cfg Config, reg *Registry, ledger *Ledger) (*Pipeline, error) {
	if ledger == nil {
		return migration.NewPipeline(cfg, reg, nil)
	}
	return migration.NewPipeline(cfg, reg, ledger)
}

// Migrate runs every stage of cfg not yet recorded as completed in the
// ledger of its scratch directory.
func Migrate(ctx context.Context, cfg Config) (migration.Reports, error) {
	ledger, err := OpenLedger(cfg)
	if err != nil {
		return migration.Reports{}, err
	}
	defer func() { _ = ledger.Close() }()

	p, err := NewPipeline(cfg, nil, ledger)
	if err != nil {
		return migration.Reports{}, err
	}
	err = p.Run(ctx, RunOptions{})
	return p.Reports(), err
}

// OpenConstants connects to target and returns its constants. Close the
// returned database when done.
func OpenConstants(target Target) (*Constants, *sql.DB, error) {
	db, dialect, err := target.Open()
	if err != nil {
		return nil, nil, err
	}
	return NewConstants(db, dialect), db, nil
}

// NewConstants wraps an open target database.
func NewConstants(db *sql.DB, dialect connector.Dialect) *Constants {
	return seed.NewConstants(db, dialect)
}

// ExitCode maps err onto the process exit status of its failure class.
func ExitCode(err error) int { return migerr.ExitCode(err) }

// SetDefaultLogger replaces the logger used by every stage.
func SetDefaultLogger(l *Logger) { common.SetDefaultLogger(l) }

// EnableMasking toggles masking of credentials and sensitive values in logs.
func EnableMasking(enabled bool) { common.EnableMasking(enabled) }
