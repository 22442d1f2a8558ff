// Package rewrite changes the physical shape of a table in place while
// carrying every surviving row forward.
package rewrite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/util"
)

// IdentityNull as a column expression makes SQLite assign a fresh rowid.
const IdentityNull = "NULL"

// Column maps one column of the new shape to an expression over the
// staged table. An empty Expr copies the column of the same name.
type Column struct {
	Name string
	Expr string
}

func (c Column) expr() string {
	if strings.TrimSpace(c.Expr) == "" {
		return util.QuoteIdent(c.Name)
	}
	return c.Expr
}

func (c Column) regenerates() bool {
	return strings.EqualFold(strings.TrimSpace(c.Expr), IdentityNull)
}

// TableRewrite describes one structural change.
type TableRewrite struct {
	Table string
	// Staging is the name the old table is renamed to. Defaults to
	// "_<table>_staging".
	Staging string
	// Create is the CREATE TABLE statement of the new shape.
	Create string
	// Columns lists every column of the new shape with its source.
	Columns []Column
	// DistinctOn, when set, collapses staged rows that agree on these
	// columns into one row. Other columns take their MIN.
	DistinctOn []string
	// Indexes are CREATE INDEX statements for the new shape. Every index of
	// the old shape is dropped first, since renaming the table carries the
	// indexes (and their names) along to the staging table.
	Indexes []string
}

func (rw TableRewrite) staging() string {
	if rw.Staging != "" {
		return rw.Staging
	}
	return "_" + rw.Table + "_staging"
}

func (rw TableRewrite) regeneratesIdentity() bool {
	for _, c := range rw.Columns {
		if c.regenerates() {
			return true
		}
	}
	return false
}

func (rw TableRewrite) validate() error {
	if rw.Table == "" || rw.Create == "" || len(rw.Columns) == 0 {
		return fmt.Errorf("table rewrite needs a table, a CREATE statement and columns")
	}
	return nil
}

// copySQL returns the INSERT ... SELECT carrying rows from staging.
func (rw TableRewrite) copySQL() string {
	names := make([]string, len(rw.Columns))
	exprs := make([]string, len(rw.Columns))
	key := make(map[string]bool, len(rw.DistinctOn))
	for _, k := range rw.DistinctOn {
		key[k] = true
	}
	for i, c := range rw.Columns {
		names[i] = c.Name
		switch {
		case len(rw.DistinctOn) == 0 || c.regenerates() || key[c.Name]:
			exprs[i] = c.expr()
		default:
			exprs[i] = "MIN(" + c.expr() + ")"
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		util.QuoteIdent(rw.Table), util.QuoteIdents(names), strings.Join(exprs, ", "), util.QuoteIdent(rw.staging()))
	if len(rw.DistinctOn) > 0 {
		return q + " GROUP BY " + util.QuoteIdents(rw.DistinctOn) + " ORDER BY MIN(rowid)"
	}
	return q + " ORDER BY rowid"
}

// expectedSQL counts the rows copySQL must produce.
func (rw TableRewrite) expectedSQL() string {
	if len(rw.DistinctOn) > 0 {
		return fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s GROUP BY %s)",
			util.QuoteIdent(rw.staging()), util.QuoteIdents(rw.DistinctOn))
	}
	return "SELECT COUNT(*) FROM " + util.QuoteIdent(rw.staging())
}

// alteredSQL counts new rows whose carried values match no staged row.
func (rw TableRewrite) alteredSQL() string {
	var names, exprs []string
	for _, c := range rw.Columns {
		if c.regenerates() {
			continue
		}
		names = append(names, util.QuoteIdent(c.Name))
		exprs = append(exprs, c.expr())
	}
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (SELECT %s FROM %s EXCEPT SELECT %s FROM %s)",
		strings.Join(names, ", "), util.QuoteIdent(rw.Table), strings.Join(exprs, ", "), util.QuoteIdent(rw.staging()))
}

// Result describes one applied (or skipped) rewrite.
type Result struct {
	Table          string
	Skipped        bool
	DroppedIndexes []string
	Staged         int64
	Expected       int64
	Copied         int64
	Duration       time.Duration
}

// Rewriter applies TableRewrites to a SQLite working copy.
type Rewriter struct {
	logger *common.Logger
}

func New() *Rewriter {
	return &Rewriter{logger: common.GetLogger().WithComponent("rewriter")}
}

// ApplyAll applies each rewrite in order and stops at the first failure.
func (r *Rewriter) ApplyAll(ctx context.Context, db *sql.DB, rewrites []TableRewrite) ([]Result, error) {
	results := make([]Result, 0, len(rewrites))
	for _, rw := range rewrites {
		res, err := r.Apply(ctx, db, rw)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Apply performs rw in a single transaction on a pinned connection with
// foreign key enforcement off. A table already in the new shape is skipped.
func (r *Rewriter) Apply(ctx context.Context, db *sql.DB, rw TableRewrite) (*Result, error) {
	if err := rw.validate(); err != nil {
		return nil, migerr.NewStructuralMismatchError(rw.Table, "invalid rewrite", 0, 0, err)
	}
	logger := r.logger.WithTable(rw.Table)
	started := time.Now()
	fail := func(detail string, err error) error {
		return migerr.NewStructuralMismatchError(rw.Table, detail, 0, 0, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fail("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	done, err := r.alreadyApplied(ctx, conn, rw)
	if err != nil {
		return nil, fail("inspect table", err)
	}
	if done {
		logger.Info("table already in target shape, skipping")
		return &Result{Table: rw.Table, Skipped: true}, nil
	}

	if rw.regeneratesIdentity() {
		if err := refuseReferenced(ctx, conn, rw.Table); err != nil {
			return nil, err
		}
	}

	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return nil, fail("read foreign_keys", err)
	}
	// Pragmas cannot change inside a transaction, so set them on the
	// connection and restore them once the transaction has ended.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, fail("disable foreign keys", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table = ON"); err != nil {
		return nil, fail("enable legacy_alter_table", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "PRAGMA legacy_alter_table = OFF")
		_, _ = conn.ExecContext(context.Background(), fmt.Sprintf("PRAGMA foreign_keys = %d", fk))
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &Result{Table: rw.Table}
	if err := r.rebuild(ctx, tx, rw, res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fail("commit", err)
	}
	res.Duration = time.Since(started)
	logger.Info("table rewritten",
		"staged", res.Staged, "copied", res.Copied, "duration", res.Duration)
	return res, nil
}

func (r *Rewriter) rebuild(ctx context.Context, tx *sql.Tx, rw TableRewrite, res *Result) error {
	fail := func(detail string, err error) error {
		return migerr.NewStructuralMismatchError(rw.Table, detail, 0, 0, err)
	}
	staging := util.QuoteIdent(rw.staging())

	indexes, err := userIndexes(ctx, tx, rw.Table)
	if err != nil {
		return fail("list indexes", err)
	}
	for _, idx := range indexes {
		if _, err := tx.ExecContext(ctx, "DROP INDEX "+util.QuoteIdent(idx)); err != nil {
			return fail("drop index "+idx, err)
		}
	}
	res.DroppedIndexes = indexes
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", util.QuoteIdent(rw.Table), staging)); err != nil {
		return fail("rename to staging", err)
	}
	if _, err := tx.ExecContext(ctx, rw.Create); err != nil {
		return fail("create new shape", err)
	}

	staged, err := sqlite.CountRows(ctx, tx, rw.staging())
	if err != nil {
		return fail("count staged rows", err)
	}
	res.Staged = staged
	if err := tx.QueryRowContext(ctx, rw.expectedSQL()).Scan(&res.Expected); err != nil {
		return fail("count expected rows", err)
	}
	if _, err := tx.ExecContext(ctx, rw.copySQL()); err != nil {
		return fail("copy rows", err)
	}
	copied, err := sqlite.CountRows(ctx, tx, rw.Table)
	if err != nil {
		return fail("count copied rows", err)
	}
	res.Copied = copied
	if copied != res.Expected {
		return migerr.NewStructuralMismatchError(rw.Table, "row count after copy", res.Expected, copied, nil)
	}
	if q := rw.alteredSQL(); q != "" {
		var altered int64
		if err := tx.QueryRowContext(ctx, q).Scan(&altered); err != nil {
			return fail("compare copied values", err)
		}
		if altered > 0 {
			return fail(fmt.Sprintf("%d copied rows differ from every staged row", altered), nil)
		}
	}

	for _, idx := range rw.Indexes {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fail("create index", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+staging); err != nil {
		return fail("drop staging table", err)
	}

	violations, err := sqlite.ForeignKeyViolations(ctx, tx)
	if err != nil {
		return fail("foreign key check", err)
	}
	if len(violations) > 0 {
		return fail(fmt.Sprintf("%d dangling references after rewrite, first %s", len(violations), violations[0]), nil)
	}
	return nil
}

// userIndexes lists the explicitly created indexes of table. Indexes
// backing PRIMARY KEY and UNIQUE constraints have no SQL and go with the table.
func userIndexes(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// alreadyApplied reports whether the table has exactly the new column set
// and no staging table is left over.
func (r *Rewriter) alreadyApplied(ctx context.Context, conn *sql.Conn, rw TableRewrite) (bool, error) {
	staged, err := sqlite.TableExists(ctx, conn, rw.staging())
	if err != nil {
		return false, err
	}
	if staged {
		return false, fmt.Errorf("staging table %s already exists", rw.staging())
	}
	current, err := sqlite.ColumnNames(ctx, conn, rw.Table)
	if err != nil {
		return false, err
	}
	want := make([]string, len(rw.Columns))
	for i, c := range rw.Columns {
		want[i] = c.Name
	}
	sort.Strings(current)
	sort.Strings(want)
	return strings.Join(current, ",") == strings.Join(want, ","), nil
}

// refuseReferenced fails when another table holds rows pointing at table.
// Regenerated ids would silently re-target those rows.
func refuseReferenced(ctx context.Context, conn *sql.Conn, table string) error {
	refs, err := sqlite.ReferencingKeys(ctx, conn, table)
	if err != nil {
		return migerr.NewStructuralMismatchError(table, "inspect inbound references", 0, 0, err)
	}
	for _, fk := range refs {
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL",
			util.QuoteIdent(fk.Table), util.QuoteIdent(fk.From))
		if err := conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return migerr.NewStructuralMismatchError(table, "count inbound references", 0, 0, err)
		}
		if n > 0 {
			return migerr.NewStructuralMismatchError(table,
				fmt.Sprintf("%d rows in %s.%s reference ids that would be regenerated", n, fk.Table, fk.From), 0, 0, nil)
		}
	}
	return nil
}
