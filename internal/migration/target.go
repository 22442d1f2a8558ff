package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/store/postgresql"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

// Target is the database the migrated data is loaded into.
type Target struct {
	// Driver is "sqlite" (default) or "postgresql".
	Driver   string
	SQLite   sqlite.Config
	Postgres postgresql.Config
}

// SqliteTarget returns a target writing a new SQLite file at path.
func SqliteTarget(path string) Target {
	return Target{Driver: DriverSqlite, SQLite: sqlite.Config{Path: path}}
}

func (t Target) driver() string {
	switch strings.ToLower(strings.TrimSpace(t.Driver)) {
	case "", DriverSqlite:
		return DriverSqlite
	case DriverPostgresql, "postgres":
		return DriverPostgresql
	default:
		return t.Driver
	}
}

// Validate checks that the target names a supported store.
func (t Target) Validate() error {
	switch t.driver() {
	case DriverSqlite:
		if strings.TrimSpace(t.SQLite.Path) == "" {
			return fmt.Errorf("sqlite target needs a path")
		}
	case DriverPostgresql:
		if _, err := t.Postgres.BuildDSN(); err != nil {
			return fmt.Errorf("postgresql target: %w", err)
		}
	default:
		return fmt.Errorf("unsupported target driver %q", t.Driver)
	}
	return nil
}

// String names the target for logs, with credentials masked.
func (t Target) String() string {
	if t.driver() == DriverSqlite {
		return "sqlite:" + t.SQLite.Path
	}
	dsn, err := t.Postgres.BuildDSN()
	if err != nil {
		return "postgresql:?"
	}
	return common.MaskSensitiveData(dsn)
}

// Dialect returns the dialect of the target store.
func (t Target) Dialect() connector.Dialect {
	if t.driver() == DriverPostgresql {
		return postgresql.NewDialect()
	}
	return sqlite.NewDialect()
}

// Open connects to an existing target with foreign keys enforced.
func (t Target) Open() (*sql.DB, connector.Dialect, error) {
	if err := t.Validate(); err != nil {
		return nil, nil, err
	}
	dialect := t.Dialect()
	if t.driver() == DriverPostgresql {
		dsn, _ := t.Postgres.BuildDSN()
		db, err := dialect.Connect(dsn)
		return db, dialect, err
	}
	cfg := t.SQLite
	cfg.ForeignKeys = true
	db, err := sqlite.Open(cfg)
	return db, dialect, err
}

// Initialize creates an empty schema of version in the target. A SQLite
// target must not exist yet; a PostgreSQL target must have no tables.
func (t Target) Initialize(ctx context.Context, version int) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.driver() == DriverSqlite {
		return schema.InitializeFile(ctx, t.SQLite.Path, version)
	}
	db, dialect, err := t.Open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return schema.Initialize(ctx, db, dialect, version)
}
