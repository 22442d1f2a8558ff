package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/store/connector"
)

// ErrUndefined is returned when a value is set for an unregistered constant.
var ErrUndefined = errors.New("constant is not defined")

// Constants defines constants and sets their values in a loaded database.
type Constants struct {
	db      *sql.DB
	dialect connector.Dialect
	logger  *common.Logger
	masker  *common.Masker
}

// NewConstants binds a constant setter to db.
func NewConstants(db *sql.DB, dialect connector.Dialect) *Constants {
	return &Constants{
		db:      db,
		dialect: dialect,
		logger:  common.GetLogger().WithComponent("constants"),
		masker:  common.GetGlobalMasker(),
	}
}

func (c *Constants) ph(i int) string { return c.dialect.GetPlaceholder(i) }

// Define registers a constant or updates the description and validator of
// an existing one. An initial Value is stored at time zero if the constant
// has no value there yet.
func (c *Constants) Define(ctx context.Context, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	insert := c.dialect.InsertIgnore("constant", []string{"name", "description", "validator"})
	if _, err := tx.ExecContext(ctx, insert, def.Name, nullString(def.Description), nullString(def.Validator)); err != nil {
		return fmt.Errorf("define %s: %w", def.Name, err)
	}
	update := fmt.Sprintf("UPDATE constant SET description = %s, validator = %s WHERE name = %s",
		c.ph(1), c.ph(2), c.ph(3))
	if _, err := tx.ExecContext(ctx, update, nullString(def.Description), nullString(def.Validator), def.Name); err != nil {
		return fmt.Errorf("define %s: %w", def.Name, err)
	}

	if def.Value != nil {
		id, err := constantID(ctx, tx, c.dialect, def.Name)
		if err != nil {
			return err
		}
		v, err := EncodeValue(def.Value)
		if err != nil {
			return err
		}
		valueSQL := c.dialect.InsertIgnore("constant_value", []string{"constant_id", "time", "value"})
		if _, err := tx.ExecContext(ctx, valueSQL, id, 0.0, v); err != nil {
			return fmt.Errorf("initial value of %s: %w", def.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.logger.Info("constant defined", "name", def.Name, "validator", def.Validator)
	return nil
}

// Set stores value for the constant name, effective from at. A zero at
// means from the start. The constant must already be defined and value
// must pass its validator. Setting the same time again replaces the value.
func (c *Constants) Set(ctx context.Context, name string, value any, at time.Time) error {
	encoded, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var ref sql.NullString
	query := "SELECT id, validator FROM constant WHERE name = " + c.ph(1)
	err = tx.QueryRowContext(ctx, query, name).Scan(&id, &ref)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	if err != nil {
		return fmt.Errorf("look up constant %s: %w", name, err)
	}

	check, err := ParseValidator(ref.String)
	if err != nil {
		return fmt.Errorf("constant %s: %w", name, err)
	}
	if err := check(encoded); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	upsert := fmt.Sprintf(`INSERT INTO constant_value (constant_id, time, value) VALUES (%s, %s, %s)
		ON CONFLICT (constant_id, time) DO UPDATE SET value = excluded.value`, c.ph(1), c.ph(2), c.ph(3))
	if _, err := tx.ExecContext(ctx, upsert, id, epoch(at), encoded); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.logger.Info("constant set", "name", name, "value", c.masker.MaskValue(name, encoded), "from", at)
	return nil
}

// Get returns the value of name in effect at at; a zero at means now.
func (c *Constants) Get(ctx context.Context, name string, at time.Time) (string, error) {
	if at.IsZero() {
		at = time.Now()
	}
	query := fmt.Sprintf(`SELECT v.value FROM constant_value v JOIN constant c ON c.id = v.constant_id
		WHERE c.name = %s AND v.time <= %s ORDER BY v.time DESC LIMIT 1`, c.ph(1), c.ph(2))
	var v string
	err := c.db.QueryRowContext(ctx, query, name, epoch(at)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no value for %s at %s", name, at.Format(time.RFC3339))
	}
	return v, err
}

// epoch converts at to the fractional unix seconds stored in constant_value.
func epoch(at time.Time) float64 {
	if at.IsZero() {
		return 0
	}
	return float64(at.UnixNano()) / 1e9
}
