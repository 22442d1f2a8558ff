// Package testfixtures builds throwaway databases for stage tests.
package testfixtures

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/util"
)

// Database is a temporary SQLite file with foreign keys enforced.
type Database struct {
	Path string
	DB   *sql.DB

	cleanup func()
}

// Close releases the connection. It is also registered with tb.Cleanup.
func (d *Database) Close() {
	if d != nil && d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
}

// Exec runs each statement and fails the test on the first error.
func (d *Database) Exec(tb testing.TB, stmts ...string) {
	tb.Helper()
	for _, s := range stmts {
		if _, err := d.DB.Exec(s); err != nil {
			tb.Fatalf("exec %q: %v", s, err)
		}
	}
}

// Count returns the number of rows in table.
func (d *Database) Count(tb testing.TB, table string) int64 {
	tb.Helper()
	var n int64
	if err := d.DB.QueryRow("SELECT COUNT(*) FROM " + util.QuoteIdent(table)).Scan(&n); err != nil {
		tb.Fatalf("count %s: %v", table, err)
	}
	return n
}

// Int64s returns the single integer column produced by query.
func (d *Database) Int64s(tb testing.TB, query string, args ...any) []int64 {
	tb.Helper()
	rows, err := d.DB.Query(query, args...)
	if err != nil {
		tb.Fatalf("query %q: %v", query, err)
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			tb.Fatalf("scan: %v", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("rows: %v", err)
	}
	return out
}

// NewDatabase creates an empty schema of version in a temporary directory.
func NewDatabase(tb testing.TB, name string, version int) *Database {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := schema.InitializeFile(context.Background(), path, version); err != nil {
		tb.Fatalf("failed to initialize %s: %v", name, err)
	}
	return OpenDatabase(tb, path)
}

// OpenDatabase opens an existing file with foreign keys enforced.
func OpenDatabase(tb testing.TB, path string) *Database {
	tb.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: path, ForeignKeys: true})
	if err != nil {
		tb.Fatalf("failed to open %s: %v", path, err)
	}
	d := &Database{Path: path, DB: db, cleanup: func() { _ = db.Close() }}
	tb.Cleanup(d.Close)
	return d
}

// NewSourceV25 creates a version 25 database filled with SampleV25.
func NewSourceV25(tb testing.TB) *Database {
	tb.Helper()
	d := NewDatabase(tb, "source.sqlr", 25)
	d.Exec(tb, SampleV25...)
	return d
}

// NewWorkingV26 creates a version 26 database filled with SampleV26.
func NewWorkingV26(tb testing.TB) *Database {
	tb.Helper()
	d := NewDatabase(tb, "working.sqlr", 26)
	d.Exec(tb, SampleV26...)
	return d
}

// Rows renders every row of table, in rowid order, as "type:value" cells so
// two databases can be compared value for value, storage class included.
func (d *Database) Rows(tb testing.TB, table string) []string {
	tb.Helper()
	rows, err := d.DB.Query("SELECT * FROM " + util.QuoteIdent(table) + " ORDER BY rowid")
	if err != nil {
		tb.Fatalf("select %s: %v", table, err)
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		tb.Fatalf("columns %s: %v", table, err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	var out []string
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			tb.Fatalf("scan %s: %v", table, err)
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprintf("%T:%v", v, v)
		}
		out = append(out, strings.Join(cells, "|"))
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("rows %s: %v", table, err)
	}
	return out
}
