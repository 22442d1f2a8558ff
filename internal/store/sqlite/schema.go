package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/util"
)

// Column is one row of PRAGMA table_info.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	// PK is the 1-based position within the primary key, 0 if not part of it.
	PK int
}

// ForeignKey is one row of PRAGMA foreign_key_list.
type ForeignKey struct {
	Table  string // referencing table
	From   string
	Parent string
	To     string
}

// Violation is one row of PRAGMA foreign_key_check.
type Violation struct {
	Table  string
	RowID  sql.NullInt64
	Parent string
}

func (v Violation) String() string {
	if v.RowID.Valid {
		return fmt.Sprintf("%s rowid %d -> %s", v.Table, v.RowID.Int64, v.Parent)
	}
	return fmt.Sprintf("%s -> %s", v.Table, v.Parent)
}

// ListTables returns user tables in name order.
func ListTables(ctx context.Context, q connector.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

// TableExists reports whether a table (not view or index) named table exists.
func TableExists(ctx context.Context, q connector.Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// IndexExists reports whether an index named name exists.
func IndexExists(ctx context.Context, q connector.Querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up index %s: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns the columns of table in declaration order.
func Columns(ctx context.Context, q connector.Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Column
	for rows.Next() {
		var c Column
		var notNull int
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &c.PK); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		c.NotNull = notNull != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return out, nil
}

// ColumnNames returns just the names from Columns.
func ColumnNames(ctx context.Context, q connector.Querier, table string) ([]string, error) {
	cols, err := Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// PrimaryKey returns the primary key columns of table in key order. A table
// without a declared key returns nil; callers fall back to rowid.
func PrimaryKey(ctx context.Context, q connector.Querier, table string) ([]string, error) {
	cols, err := Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	key := make([]string, 0, 1)
	for pos := 1; ; pos++ {
		found := false
		for _, c := range cols {
			if c.PK == pos {
				key = append(key, c.Name)
				found = true
			}
		}
		if !found {
			break
		}
	}
	if len(key) == 0 {
		return nil, nil
	}
	return key, nil
}

// ForeignKeys returns the outbound foreign keys declared by table.
func ForeignKeys(ctx context.Context, q connector.Querier, table string) ([]ForeignKey, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT "table", "from", COALESCE("to", '') FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ForeignKey
	for rows.Next() {
		fk := ForeignKey{Table: table}
		if err := rows.Scan(&fk.Parent, &fk.From, &fk.To); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// ReferencingKeys returns every foreign key in the database whose parent is
// table, excluding self references.
func ReferencingKeys(ctx context.Context, q connector.Querier, table string) ([]ForeignKey, error) {
	tables, err := ListTables(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []ForeignKey
	for _, t := range tables {
		if t == table {
			continue
		}
		fks, err := ForeignKeys(ctx, q, t)
		if err != nil {
			return nil, err
		}
		for _, fk := range fks {
			if strings.EqualFold(fk.Parent, table) {
				out = append(out, fk)
			}
		}
	}
	return out, nil
}

// ForeignKeyViolations runs PRAGMA foreign_key_check over the whole database.
func ForeignKeyViolations(ctx context.Context, q connector.Querier) ([]Violation, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("failed to check foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Violation
	for rows.Next() {
		var v Violation
		var fkid int
		if err := rows.Scan(&v.Table, &v.RowID, &v.Parent, &fkid); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountRows returns SELECT COUNT(*) for table. It works on any dialect.
func CountRows(ctx context.Context, q connector.Querier, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+util.QuoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// QuickCheck runs PRAGMA quick_check and returns an error unless it reports ok.
func QuickCheck(ctx context.Context, q connector.Querier) error {
	var result string
	if err := q.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}
