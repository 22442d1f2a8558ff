package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/testfixtures"
)

func newConstants(t *testing.T) (*Constants, *testfixtures.Database) {
	t.Helper()
	d := testfixtures.NewDatabase(t, "target.sqlr", 26)
	return NewConstants(d.DB, sqlite.NewDialect()), d
}

func TestConstants_SetRequiresDefinition(t *testing.T) {
	c, _ := newConstants(t)
	err := c.Set(context.Background(), "power.ftp.cotic", 250, time.Time{})
	if !errors.Is(err, ErrUndefined) {
		t.Fatalf("expected ErrUndefined, got %v", err)
	}
}

func TestConstants_DefineAndSet(t *testing.T) {
	ctx := context.Background()
	c, d := newConstants(t)

	def := Definition{Name: "power.ftp.cotic", Description: "FTP on the Cotic", Validator: "int"}
	if err := c.Define(ctx, def); err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := c.Set(ctx, "power.ftp.cotic", "250", time.Time{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "power.ftp.cotic", "strong", time.Time{}); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := c.Set(ctx, "power.ftp.cotic", 262, jan); err != nil {
		t.Fatalf("Set at %s: %v", jan, err)
	}
	// same time again replaces the value
	if err := c.Set(ctx, "power.ftp.cotic", 265, jan); err != nil {
		t.Fatalf("Set again: %v", err)
	}

	if v, err := c.Get(ctx, "power.ftp.cotic", jan.Add(-time.Hour)); err != nil || v != "250" {
		t.Errorf("before January: %q, %v", v, err)
	}
	if v, err := c.Get(ctx, "power.ftp.cotic", time.Time{}); err != nil || v != "265" {
		t.Errorf("now: %q, %v", v, err)
	}
	if n := d.Count(t, "constant_value"); n != 2 {
		t.Errorf("constant_value has %d rows", n)
	}

	// redefining updates the definition in place
	def.Description = "FTP on the Cotic, 2026"
	if err := c.Define(ctx, def); err != nil {
		t.Fatalf("redefine: %v", err)
	}
	var desc string
	if err := d.DB.QueryRow(`SELECT description FROM constant WHERE name = 'power.ftp.cotic'`).Scan(&desc); err != nil || desc != def.Description {
		t.Errorf("description = %q, %v", desc, err)
	}
	if n := d.Count(t, "constant"); n != 1 {
		t.Errorf("constant has %d rows", n)
	}
}

func TestConstants_StructuredValue(t *testing.T) {
	ctx := context.Background()
	c, _ := newConstants(t)

	if err := c.Define(ctx, Definition{Name: "hr.zones.run", Validator: "json:zones,max"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "hr.zones.run", map[string]any{"zones": []any{0.7, 0.8}}, time.Time{}); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("missing key should be rejected, got %v", err)
	}
	value := map[string]any{"zones": []any{0.7, 0.8}, "max": 190}
	if err := c.Set(ctx, "hr.zones.run", value, time.Time{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := c.Get(ctx, "hr.zones.run", time.Time{}); err != nil || v != `{"max":190,"zones":[0.7,0.8]}` {
		t.Errorf("Get = %q, %v", v, err)
	}
}

func TestConstants_DefineRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	c, _ := newConstants(t)
	for _, def := range []Definition{
		{Name: "bad name", Validator: "int"},
		{Name: "ok", Validator: "colour"},
		{Name: "ok", Validator: "float", Value: "light"},
	} {
		if err := c.Define(ctx, def); err == nil {
			t.Errorf("Define(%+v) should fail", def)
		}
	}
}
