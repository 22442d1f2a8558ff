// Package schema holds the table definitions of every supported schema
// version and creates empty databases from them.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

// ErrTargetNotEmpty is returned when Initialize finds existing tables.
var ErrTargetNotEmpty = errors.New("target database is not empty")

var ddl = map[string]map[int][]string{
	"sqlite": {
		25: sqliteV25,
		26: sqliteV26,
	},
	"postgresql": {
		26: postgresV26,
	},
}

// Statements returns the DDL creating version for the named driver.
func Statements(driver string, version int) ([]string, error) {
	byVersion, ok := ddl[driver]
	if !ok {
		return nil, fmt.Errorf("no schema definitions for driver %q", driver)
	}
	stmts, ok := byVersion[version]
	if !ok {
		return nil, fmt.Errorf("no %s schema definition for version %d", driver, version)
	}
	return stmts, nil
}

// Supports reports whether version can be created on driver.
func Supports(driver string, version int) bool {
	_, err := Statements(driver, version)
	return err == nil
}

// Initialize creates the tables and indexes of version in an empty
// database. It refuses to touch a database that already has tables.
func Initialize(ctx context.Context, db *sql.DB, dialect connector.Dialect, version int) error {
	logger := common.GetLogger().WithComponent("schema").WithStore(dialect.GetDriverName())

	stmts, err := Statements(dialect.GetDriverName(), version)
	if err != nil {
		return err
	}
	existing, err := dialect.ListTables(ctx, db)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: found %d tables (first %s)", ErrTargetNotEmpty, len(existing), existing[0])
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema version %d: %w", version, err)
		}
	}
	if dialect.GetDriverName() == "sqlite" {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	logger.Info("schema initialized", "version", version, "statements", len(stmts))
	return nil
}

// InitializeFile creates a new SQLite database at path holding an empty
// schema of version. An existing file is never reused.
func InitializeFile(ctx context.Context, path string, version int) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrTargetNotEmpty, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	db, err := sqlite.Open(sqlite.Config{Path: path, Mode: "rwc", ForeignKeys: true})
	if err != nil {
		return err
	}
	if err := Initialize(ctx, db, sqlite.NewDialect(), version); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return err
	}
	return db.Close()
}

// UserVersion reads the version stamp of a SQLite database. Zero means the
// database was never stamped.
func UserVersion(ctx context.Context, q connector.Querier) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return v, nil
}
