package config

import (
	"fmt"
	"strings"

	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/loykin/ch2migrate/internal/store/postgresql"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/util"
)

// TargetFactory builds migration targets using the builder for each driver
type TargetFactory struct{}

// NewTargetFactory creates a new target factory
func NewTargetFactory() *TargetFactory {
	return &TargetFactory{}
}

// CreateTarget creates a target from the given config. An empty type
// selects SQLite.
func (f *TargetFactory) CreateTarget(config TargetConfig) (migration.Target, error) {
	switch util.TrimAndLower(config.Type) {
	case "", migration.DriverSqlite:
		return NewSqliteTargetBuilder(config.SQLite).Build()
	case migration.DriverPostgresql, "postgres":
		return NewPostgresTargetBuilder(config.Postgres).Build()
	default:
		return migration.Target{}, fmt.Errorf("unsupported target type %q (valid: sqlite, postgresql)", config.Type)
	}
}

// SqliteTargetBuilder handles SQLite-specific target configuration
type SqliteTargetBuilder struct {
	cfg SQLiteTargetConfig
}

// NewSqliteTargetBuilder creates a new SQLite target builder
func NewSqliteTargetBuilder(cfg SQLiteTargetConfig) *SqliteTargetBuilder {
	return &SqliteTargetBuilder{cfg: cfg}
}

// Build creates a SQLite target writing a new database file
func (b *SqliteTargetBuilder) Build() (migration.Target, error) {
	path := util.ExpandPath(strings.TrimSpace(b.cfg.Path))
	if path == "" {
		return migration.Target{}, fmt.Errorf("target.sqlite.path is required")
	}
	return migration.Target{
		Driver: migration.DriverSqlite,
		SQLite: sqlite.Config{Path: path, BusyTimeoutMS: b.cfg.BusyTimeoutMS},
	}, nil
}

// PostgresTargetBuilder handles PostgreSQL-specific target configuration
type PostgresTargetBuilder struct {
	cfg postgresql.Config
}

// NewPostgresTargetBuilder creates a new PostgreSQL target builder
func NewPostgresTargetBuilder(cfg postgresql.Config) *PostgresTargetBuilder {
	return &PostgresTargetBuilder{cfg: cfg}
}

// Build creates a PostgreSQL target, normalizing whitespace in every field
func (b *PostgresTargetBuilder) Build() (migration.Target, error) {
	pg := b.cfg
	fields := util.TrimSpaceFields(pg.DSN, pg.Host, pg.User, pg.DBName, pg.SSLMode)
	pg.DSN, pg.Host, pg.User, pg.DBName, pg.SSLMode = fields[0], fields[1], fields[2], fields[3], fields[4]
	if _, err := pg.BuildDSN(); err != nil {
		return migration.Target{}, fmt.Errorf("target.postgres: %w", err)
	}
	return migration.Target{Driver: migration.DriverPostgresql, Postgres: pg}, nil
}
