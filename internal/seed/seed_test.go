package seed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/loykin/ch2migrate/internal/store/postgresql"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/testfixtures"
)

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewDatabase(t, "target.sqlr", 26)
	defaults := DefaultConfig()

	res, err := NewSeeder().Seed(ctx, d.DB, sqlite.NewDialect(), defaults)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Groups != 4 || res.Constants != 5 || res.Values != 1 {
		t.Errorf("first run inserted %+v", res)
	}

	res, err = NewSeeder().Seed(ctx, d.DB, sqlite.NewDialect(), defaults)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if res.Groups != 0 || res.Constants != 0 || res.Values != 0 {
		t.Errorf("second run inserted %+v", res)
	}
	if n := d.Count(t, "activity_group"); n != 4 {
		t.Errorf("activity_group has %d rows", n)
	}
	if n := d.Count(t, "constant"); n != 5 {
		t.Errorf("constant has %d rows", n)
	}

	v, err := NewConstants(d.DB, sqlite.NewDialect()).Get(ctx, "hr.zones", time.Time{})
	if err != nil || v != `{"zones":[0.68,0.83,0.94,1.05]}` {
		t.Errorf("hr.zones = %q, %v", v, err)
	}
}

func TestSeed_KeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewDatabase(t, "target.sqlr", 26)
	d.Exec(t, `INSERT INTO activity_group (id, name, description) VALUES (7, 'Bike', 'mine')`)

	res, err := NewSeeder().Seed(ctx, d.DB, sqlite.NewDialect(), DefaultConfig())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Groups != 3 {
		t.Errorf("inserted %d groups, want 3", res.Groups)
	}
	var desc string
	if err := d.DB.QueryRow(`SELECT description FROM activity_group WHERE name = 'Bike'`).Scan(&desc); err != nil || desc != "mine" {
		t.Errorf("existing group changed: %q, %v", desc, err)
	}
}

func TestSeed_InvalidDefaults(t *testing.T) {
	d := testfixtures.NewDatabase(t, "target.sqlr", 26)
	bad := Defaults{Constants: []Definition{{Name: "ftp", Validator: "int", Value: "lots"}}}
	if _, err := NewSeeder().Seed(context.Background(), d.DB, sqlite.NewDialect(), bad); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
	if n := d.Count(t, "constant"); n != 0 {
		t.Errorf("constant has %d rows after refused seed", n)
	}
}

func TestSeed_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "activity_group" \("name", "description"\) VALUES \(\$1, \$2\) ON CONFLICT DO NOTHING`).
		WithArgs("Bike", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "constant"`).WillReturnError(errors.New("relation \"constant\" does not exist"))
	mock.ExpectRollback()

	defaults := Defaults{
		Groups:    []Group{{Name: "Bike"}},
		Constants: []Definition{{Name: "weight", Validator: "float"}},
	}
	_, err = NewSeeder().Seed(context.Background(), db, postgresql.NewDialect(), defaults)
	if err == nil || !strings.Contains(err.Error(), "seed constant weight") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDecodeDefaults(t *testing.T) {
	raw := map[string]any{
		"groups": []any{
			map[string]any{"name": "Row", "description": "Rowing"},
		},
		"constants": []any{
			map[string]any{"name": "ftp.row", "validator": "int", "value": 180},
		},
	}
	d, err := DecodeDefaults(raw)
	if err != nil {
		t.Fatalf("DecodeDefaults: %v", err)
	}
	if len(d.Groups) != 1 || d.Groups[0].Name != "Row" || len(d.Constants) != 1 || d.Constants[0].Value != 180 {
		t.Errorf("decoded %+v", d)
	}

	if d, err := DecodeDefaults(nil); err != nil || len(d.Groups) != 4 {
		t.Errorf("empty section should give defaults, got %+v, %v", d, err)
	}

	if _, err := DecodeDefaults(map[string]any{"grops": []any{}}); err == nil {
		t.Error("unknown key should be rejected")
	}
	dup := map[string]any{"constants": []any{
		map[string]any{"name": "a"}, map[string]any{"name": "a"},
	}}
	if _, err := DecodeDefaults(dup); err == nil {
		t.Error("duplicate constant should be rejected")
	}
}
