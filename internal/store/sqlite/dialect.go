package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/util"
	_ "modernc.org/sqlite"
)

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

var _ connector.Dialect = (*Dialect)(nil)

// GetDriverName returns the driver name for logging
func (d *Dialect) GetDriverName() string {
	return "sqlite"
}

// GetPlaceholder returns SQLite-style placeholders (?)
func (d *Dialect) GetPlaceholder(int) string {
	return "?"
}

// InsertIgnore returns an INSERT OR IGNORE statement
func (d *Dialect) InsertIgnore(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		util.QuoteIdent(table), util.QuoteIdents(columns), marks)
}

// Connect opens a SQLite database. The pool is capped at a single
// connection so that pragmas set on it stay in effect for every statement.
func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	db.SetMaxOpenConns(constants.DefaultSQLiteMaxConnections)
	db.SetMaxIdleConns(constants.DefaultSQLiteMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)

	return db, nil
}

// Open is shorthand for NewDialect().Connect(cfg.DSN()).
func Open(cfg Config) (*sql.DB, error) {
	return NewDialect().Connect(cfg.DSN())
}

// ListTables returns user tables in name order
func (d *Dialect) ListTables(ctx context.Context, q connector.Querier) ([]string, error) {
	return ListTables(ctx, q)
}

// BeginReplay defers foreign key checks to commit so rows of
// self-referencing tables may arrive in any order.
func (d *Dialect) BeginReplay(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to defer foreign keys: %w", err)
	}
	return nil
}

// VerifyReplay fails when any foreign key is left dangling.
func (d *Dialect) VerifyReplay(ctx context.Context, tx *sql.Tx) error {
	violations, err := ForeignKeyViolations(ctx, tx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d foreign key violations, first: %s", len(violations), violations[0])
	}
	return nil
}

// FinishReplay is a no-op: INTEGER PRIMARY KEY columns continue from MAX(id).
func (d *Dialect) FinishReplay(context.Context, *sql.Tx, []string) error {
	return nil
}
