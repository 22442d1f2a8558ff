// Package seed writes baseline configuration into a loaded database and
// manages operator constants.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/store/connector"
)

// Result counts the rows a seeding run inserted. Rows that already existed
// are not counted.
type Result struct {
	Groups    int64
	Constants int64
	Values    int64
}

// Seeder inserts default activity groups and constant definitions.
type Seeder struct {
	logger *common.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder() *Seeder {
	return &Seeder{logger: common.GetLogger().WithComponent("seeder")}
}

// Seed inserts defaults in one transaction. Existing rows with the same
// name are left untouched, so running it again changes nothing.
func (s *Seeder) Seed(ctx context.Context, db *sql.DB, dialect connector.Dialect, d Defaults) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &Result{}
	groupSQL := dialect.InsertIgnore("activity_group", []string{"name", "description"})
	for _, g := range d.Groups {
		n, err := execCount(ctx, tx, groupSQL, g.Name, nullString(g.Description))
		if err != nil {
			return nil, fmt.Errorf("seed activity group %s: %w", g.Name, err)
		}
		res.Groups += n
	}

	constSQL := dialect.InsertIgnore("constant", []string{"name", "description", "validator"})
	valueSQL := dialect.InsertIgnore("constant_value", []string{"constant_id", "time", "value"})
	for _, c := range d.Constants {
		n, err := execCount(ctx, tx, constSQL, c.Name, nullString(c.Description), nullString(c.Validator))
		if err != nil {
			return nil, fmt.Errorf("seed constant %s: %w", c.Name, err)
		}
		res.Constants += n
		if c.Value == nil {
			continue
		}
		id, err := constantID(ctx, tx, dialect, c.Name)
		if err != nil {
			return nil, err
		}
		v, err := EncodeValue(c.Value)
		if err != nil {
			return nil, err
		}
		n, err = execCount(ctx, tx, valueSQL, id, 0.0, v)
		if err != nil {
			return nil, fmt.Errorf("seed value of %s: %w", c.Name, err)
		}
		res.Values += n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit seed transaction: %w", err)
	}
	s.logger.WithStore(dialect.GetDriverName()).Info("defaults seeded",
		"groups", res.Groups, "constants", res.Constants, "values", res.Values)
	return res, nil
}

func execCount(ctx context.Context, q connector.Querier, query string, args ...any) (int64, error) {
	r, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

func constantID(ctx context.Context, q connector.Querier, dialect connector.Dialect, name string) (int64, error) {
	var id int64
	query := "SELECT id FROM constant WHERE name = " + dialect.GetPlaceholder(1)
	err := q.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	if err != nil {
		return 0, fmt.Errorf("look up constant %s: %w", name, err)
	}
	return id, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
