package connector

import (
	"context"
	"database/sql"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect captures what differs between the stores a migrated database can
// be written into: connection setup, placeholder style, idempotent inserts
// and the hooks wrapped around a replay transaction.
type Dialect interface {
	GetDriverName() string
	Connect(dsn string) (*sql.DB, error)
	GetPlaceholder(index int) string
	// InsertIgnore returns an INSERT for table/columns that silently skips
	// rows conflicting with a unique constraint.
	InsertIgnore(table string, columns []string) string
	// ListTables returns user tables in name order.
	ListTables(ctx context.Context, q Querier) ([]string, error)
	// BeginReplay runs right after the replay transaction opens.
	BeginReplay(ctx context.Context, tx *sql.Tx) error
	// VerifyReplay runs after the last statement, before commit.
	VerifyReplay(ctx context.Context, tx *sql.Tx) error
	// FinishReplay runs after verification; tables are the replayed tables
	// in load order.
	FinishReplay(ctx context.Context, tx *sql.Tx, tables []string) error
}
