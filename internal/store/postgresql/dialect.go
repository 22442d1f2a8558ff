package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/util"
)

// Dialect implements SQL dialect for PostgreSQL
type Dialect struct{}

// NewDialect creates a new PostgreSQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

var _ connector.Dialect = (*Dialect)(nil)

// GetPlaceholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (p *Dialect) GetPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// InsertIgnore returns an INSERT ... ON CONFLICT DO NOTHING statement
func (p *Dialect) InsertIgnore(table string, columns []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = p.GetPlaceholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		util.QuoteIdent(table), util.QuoteIdents(columns), strings.Join(marks, ", "))
}

// Connect establishes a connection to PostgreSQL with connection pooling
func (p *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(constants.DefaultPostgresMaxConnections)
	db.SetMaxIdleConns(constants.DefaultPostgresMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	return db, nil
}

// ListTables returns base tables of the current schema in name order
func (p *Dialect) ListTables(ctx context.Context, q connector.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// BeginReplay defers every deferrable constraint to the end of the
// transaction.
func (p *Dialect) BeginReplay(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return fmt.Errorf("failed to defer constraints: %w", err)
	}
	return nil
}

// VerifyReplay forces the deferred constraint checks to run now so a
// violation is reported before commit.
func (p *Dialect) VerifyReplay(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SET CONSTRAINTS ALL IMMEDIATE"); err != nil {
		return fmt.Errorf("deferred constraint check failed: %w", err)
	}
	return nil
}

// FinishReplay moves every id sequence past the largest replayed id.
// Explicit ids in INSERT statements do not advance serial sequences.
func (p *Dialect) FinishReplay(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, table := range tables {
		var hasID bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = 'id')`, table).Scan(&hasID)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if !hasID {
			continue
		}
		q := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence($1, 'id'), COALESCE(MAX(id), 1), MAX(id) IS NOT NULL) FROM %s`,
			util.QuoteIdent(table))
		var ignored sql.NullInt64
		if err := tx.QueryRowContext(ctx, q, table).Scan(&ignored); err != nil {
			return fmt.Errorf("failed to reset id sequence of %s: %w", table, err)
		}
	}
	return nil
}

// GetDriverName returns the driver name for logging
func (p *Dialect) GetDriverName() string {
	return "postgresql"
}
