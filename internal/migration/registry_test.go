package migration

import (
	"errors"
	"testing"

	"github.com/loykin/ch2migrate/internal/schema"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	tr, err := r.Lookup(25, 26)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tr.Name != "detach-segments" || len(tr.Rewrites) != 1 || tr.Rewrites[0].Table != "segment" {
		t.Errorf("unexpected transition %+v", tr)
	}
	if len(tr.RetainedSourceTypes) != 5 {
		t.Errorf("retained %v", tr.RetainedSourceTypes)
	}
	for _, st := range tr.RetainedSourceTypes {
		if st == schema.SourceTypeActivity || st == schema.SourceTypeMonitor {
			t.Errorf("%s must not be retained", st)
		}
	}

	if _, err := r.Lookup(26, 27); !errors.Is(err, ErrNoTransition) {
		t.Errorf("Lookup(26, 27) = %v", err)
	}
	if _, err := r.Lookup(25, 27); !errors.Is(err, ErrNoTransition) {
		t.Errorf("Lookup(25, 27) = %v", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Transition{From: 1, To: 3, Tables: []string{"a"}}); err == nil {
		t.Error("skipping a version should be refused")
	}
	if err := r.Register(Transition{From: 1, To: 2}); err == nil {
		t.Error("transition without tables should be refused")
	}
	if err := r.Register(Transition{From: 1, To: 2, Name: "one", Tables: []string{"a"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Transition{From: 1, To: 2, Name: "again", Tables: []string{"a"}}); err == nil {
		t.Error("second transition from the same version should be refused")
	}
	if err := r.Register(Transition{From: 2, To: 3, Name: "two", Tables: []string{"a"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	path, err := r.Path(1, 3)
	if err != nil || len(path) != 2 || path[0].Name != "one" || path[1].Name != "two" {
		t.Errorf("Path(1, 3) = %v, %v", path, err)
	}
	if _, err := r.Path(1, 4); !errors.Is(err, ErrNoTransition) {
		t.Errorf("Path(1, 4) = %v", err)
	}
	if _, err := r.Path(3, 1); !errors.Is(err, ErrNoTransition) {
		t.Errorf("Path(3, 1) = %v", err)
	}

	all := r.Transitions()
	if len(all) != 2 || all[0].From != 1 || all[1].From != 2 {
		t.Errorf("Transitions = %v", all)
	}
}

func TestConfigPaths(t *testing.T) {
	c := Config{ScratchDir: "/scratch", From: 25, To: 26}
	if got := c.WorkingPath(); got != "/scratch/working.sqlr" {
		t.Errorf("WorkingPath = %s", got)
	}
	if got := c.LedgerPath(); got != "/scratch/ch2migrate-ledger.db" {
		t.Errorf("LedgerPath = %s", got)
	}
	for comp, want := range map[string]string{
		"":     "/scratch/dump-25-26.sql",
		"none": "/scratch/dump-25-26.sql",
		"gzip": "/scratch/dump-25-26.sql.gz",
		"zstd": "/scratch/dump-25-26.sql.zst",
	} {
		c.Compression = comp
		if got := c.DumpPath(); got != want {
			t.Errorf("DumpPath(%q) = %s, want %s", comp, got, want)
		}
	}
}

func TestTarget(t *testing.T) {
	if err := (Target{}).Validate(); err == nil {
		t.Error("sqlite target without a path should be invalid")
	}
	if err := (Target{Driver: "mysql"}).Validate(); err == nil {
		t.Error("unknown driver should be invalid")
	}
	pg := Target{Driver: "postgres"}
	pg.Postgres.Host = "db"
	pg.Postgres.User = "migrator"
	pg.Postgres.Password = "hunter2"
	pg.Postgres.DBName = "ch2"
	if err := pg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if s := pg.String(); s != "postgres://migrator:***MASKED***@db:5432/ch2?sslmode=disable" {
		t.Errorf("String = %s", s)
	}
	if pg.Dialect().GetDriverName() != DriverPostgresql {
		t.Error("postgres alias should select the postgresql dialect")
	}
	if SqliteTarget("/tmp/x.sqlr").Dialect().GetDriverName() != DriverSqlite {
		t.Error("default dialect should be sqlite")
	}
}
