// Package dump turns a working copy into a plain-text SQL script that can be
// replayed into an empty target, and reads such scripts back.
//
// A dump looks like:
//
//	-- ch2migrate dump
//	-- from-version: 25
//	-- to-version: 26
//	-- tables: source,statistic_name,...
//
//	-- table: source
//	INSERT INTO "source" ("id", "type") VALUES (4, 3);
//	...
//	-- statements: 42
//
// The trailing statement count lets the reader reject truncated files.
package dump

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/store/connector"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/util"
	"github.com/loykin/ch2migrate/pkg/orchestrator"
)

const (
	magicLine       = "-- ch2migrate dump"
	keyFromVersion  = "from-version"
	keyToVersion    = "to-version"
	keyTables       = "tables"
	keyTable        = "table"
	keyStatements   = "statements"
	directivePrefix = "-- "
)

// TableManifest records how many rows one table contributed.
type TableManifest struct {
	Name string `yaml:"name"`
	Rows int64  `yaml:"rows"`
}

// Manifest describes a written dump.
type Manifest struct {
	FromVersion int             `yaml:"from_version"`
	ToVersion   int             `yaml:"to_version"`
	Tables      []TableManifest `yaml:"tables"`
	Statements  int             `yaml:"statements"`
	Duration    time.Duration   `yaml:"-"`
}

// TableNames returns the tables in dump order.
func (m *Manifest) TableNames() []string {
	out := make([]string, len(m.Tables))
	for i, t := range m.Tables {
		out[i] = t.Name
	}
	return out
}

// Extractor writes dumps of SQLite databases.
type Extractor struct {
	FromVersion int
	ToVersion   int
	logger      *common.Logger
}

// NewExtractor creates an extractor labelling its dumps from -> to.
func NewExtractor(from, to int) *Extractor {
	return &Extractor{
		FromVersion: from,
		ToVersion:   to,
		logger:      common.GetLogger().WithComponent("extractor").WithVersion(from, to),
	}
}

// Order sorts tables so that every table comes after the tables its foreign
// keys point at. Self references are ignored; ties keep the given order.
// A foreign key to a table outside the set is an error, since replay could
// not satisfy it.
func Order(ctx context.Context, q connector.Querier, tables []string) ([]string, error) {
	graph := orchestrator.NewDependencyGraph()
	for _, t := range tables {
		graph.AddNode(t)
	}
	for _, t := range tables {
		fks, err := sqlite.ForeignKeys(ctx, q, t)
		if err != nil {
			return nil, err
		}
		for _, fk := range fks {
			if fk.Parent == t {
				continue
			}
			if !graph.Has(fk.Parent) {
				return nil, fmt.Errorf("table %s references %s, which is not extracted", t, fk.Parent)
			}
			if err := graph.AddDependency(fk.Parent, t); err != nil {
				return nil, err
			}
		}
	}
	order, err := graph.OrderedSort()
	if err != nil {
		return nil, fmt.Errorf("cannot order tables: %w", err)
	}
	return order, nil
}

// Extract writes tables from db to w in foreign key order, one INSERT per
// row, rows in primary key order. All reads happen in one transaction so
// the dump is a consistent view.
func (e *Extractor) Extract(ctx context.Context, db *sql.DB, tables []string, w io.Writer) (*Manifest, error) {
	start := time.Now()
	if len(tables) == 0 {
		return nil, migerr.NewSerializationError("", "no tables to extract", nil)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := Order(ctx, tx, tables)
	if err != nil {
		return nil, migerr.NewSerializationError("", "table order", err)
	}

	bw := bufio.NewWriter(w)
	m := &Manifest{FromVersion: e.FromVersion, ToVersion: e.ToVersion}

	fmt.Fprintln(bw, magicLine)
	fmt.Fprintf(bw, "%s%s: %d\n", directivePrefix, keyFromVersion, e.FromVersion)
	fmt.Fprintf(bw, "%s%s: %d\n", directivePrefix, keyToVersion, e.ToVersion)
	fmt.Fprintf(bw, "%s%s: %s\n", directivePrefix, keyTables, strings.Join(order, ","))

	for _, table := range order {
		n, err := e.extractTable(ctx, tx, table, bw)
		if err != nil {
			return nil, err
		}
		m.Tables = append(m.Tables, TableManifest{Name: table, Rows: n})
		m.Statements += int(n)
		e.logger.Debug("table extracted", "table", table, "rows", n)
	}

	fmt.Fprintf(bw, "\n%s%s: %d\n", directivePrefix, keyStatements, m.Statements)
	if err := bw.Flush(); err != nil {
		return nil, migerr.NewSerializationError("", "write dump", err)
	}

	m.Duration = time.Since(start)
	e.logger.Info("extraction complete",
		"tables", len(m.Tables),
		"statements", m.Statements,
		"duration", m.Duration)
	return m, nil
}

func (e *Extractor) extractTable(ctx context.Context, tx *sql.Tx, table string, w *bufio.Writer) (int64, error) {
	cols, err := sqlite.ColumnNames(ctx, tx, table)
	if err != nil {
		return 0, migerr.NewSerializationError(table, "read columns", err)
	}
	key, err := sqlite.PrimaryKey(ctx, tx, table)
	if err != nil {
		return 0, migerr.NewSerializationError(table, "read primary key", err)
	}
	orderBy := "rowid"
	if len(key) > 0 {
		orderBy = util.QuoteIdents(key)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		util.QuoteIdents(cols), util.QuoteIdent(table), orderBy)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, migerr.NewSerializationError(table, "select rows", err)
	}
	defer func() { _ = rows.Close() }()

	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (", util.QuoteIdent(table), util.QuoteIdents(cols))
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	literals := make([]string, len(cols))

	fmt.Fprintf(w, "\n%s%s: %s\n", directivePrefix, keyTable, table)
	var n int64
	for rows.Next() {
		n++
		if err := rows.Scan(ptrs...); err != nil {
			return 0, migerr.NewSerializationError(table, "scan row", err)
		}
		for i, v := range values {
			lit, err := Literal(v)
			if err != nil {
				se := migerr.NewSerializationError(table, "encode value", err)
				se.Column = cols[i]
				se.Row = n
				return 0, se
			}
			literals[i] = lit
		}
		w.WriteString(prefix)
		w.WriteString(strings.Join(literals, ", "))
		if _, err := w.WriteString(");\n"); err != nil {
			return 0, migerr.NewSerializationError(table, "write dump", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, migerr.NewSerializationError(table, "iterate rows", err)
	}
	return n, nil
}

// ExtractFile writes the dump to path (compressed according to its
// extension) together with a checksum sidecar.
func (e *Extractor) ExtractFile(ctx context.Context, db *sql.DB, tables []string, path string) (*Manifest, string, error) {
	var m *Manifest
	sum, err := WriteArtifact(path, func(w io.Writer) error {
		var err error
		m, err = e.Extract(ctx, db, tables, w)
		return err
	})
	if err != nil {
		var se *migerr.SerializationError
		if errors.As(err, &se) {
			return nil, "", err
		}
		return nil, "", migerr.NewSerializationError("", "write artifact "+path, err)
	}
	return m, sum, nil
}
