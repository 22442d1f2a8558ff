package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/testfixtures"
)

func fileSum(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	src := testfixtures.NewSourceV25(t)
	working := filepath.Join(t.TempDir(), "scratch", "working.sqlr")

	snap, err := New().Prepare(ctx, src.Path, working)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if snap.Path != working {
		t.Errorf("Path = %s, want %s", snap.Path, working)
	}
	if snap.Checksum != fileSum(t, working) || snap.Checksum != fileSum(t, src.Path) {
		t.Error("working copy checksum differs from source")
	}
	st, _ := os.Stat(working)
	if st.Size() != snap.Size {
		t.Errorf("Size = %d, file has %d", snap.Size, st.Size())
	}
	if _, err := os.Stat(working + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary copy left behind")
	}

	copyDB := testfixtures.OpenDatabase(t, working)
	for _, table := range []string{"source", "statistic_journal", "segment", "activity_journal"} {
		if !reflect.DeepEqual(copyDB.Rows(t, table), src.Rows(t, table)) {
			t.Errorf("%s differs in working copy", table)
		}
	}
	if v, err := schema.UserVersion(ctx, copyDB.DB); err != nil || v != 25 {
		t.Errorf("UserVersion = %d, %v", v, err)
	}
}

func TestPrepare_FoldsWAL(t *testing.T) {
	ctx := context.Background()
	src := testfixtures.NewSourceV25(t)
	src.Exec(t, `PRAGMA journal_mode=WAL`)
	src.Exec(t, `INSERT INTO kit_component (id, name) VALUES (42, 'cassette')`)
	src.Close()

	working := filepath.Join(t.TempDir(), "working.sqlr")
	if _, err := New().Prepare(ctx, src.Path, working); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	copyDB := testfixtures.OpenDatabase(t, working)
	ids := copyDB.Int64s(t, `SELECT id FROM kit_component WHERE id = 42`)
	if len(ids) != 1 {
		t.Error("row committed to the write-ahead log is missing from the copy")
	}
	var mode string
	if err := copyDB.DB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "delete" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}

	// the source was switched too, and no log file is left beside it
	if st, err := os.Stat(src.Path + "-wal"); err == nil && st.Size() > 0 {
		t.Error("source still has a write-ahead log")
	}
	again := testfixtures.OpenDatabase(t, src.Path)
	if err := again.DB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "delete" {
		t.Errorf("source journal_mode = %q, %v", mode, err)
	}
}

func TestPrepare_LockedSource(t *testing.T) {
	ctx := context.Background()
	src := testfixtures.NewSourceV25(t)

	conn, err := src.DB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		t.Fatal(err)
	}
	defer func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) }()

	s := New()
	s.BusyTimeoutMS = 50
	working := filepath.Join(t.TempDir(), "working.sqlr")
	_, err = s.Prepare(ctx, src.Path, working)
	if !errors.Is(err, migerr.ErrSnapshot) {
		t.Fatalf("expected snapshot error, got %v", err)
	}
	if migerr.ExitCode(err) != 10 {
		t.Errorf("exit code = %d", migerr.ExitCode(err))
	}
	if _, err := os.Stat(working); !errors.Is(err, os.ErrNotExist) {
		t.Error("working copy created while source was locked")
	}
}

func TestPrepare_BadPaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := New().Prepare(ctx, filepath.Join(dir, "missing.sqlr"), filepath.Join(dir, "w.sqlr"))
	if !errors.Is(err, migerr.ErrSnapshot) {
		t.Errorf("missing source: got %v", err)
	}

	src := testfixtures.NewSourceV25(t)
	_, err = New().Prepare(ctx, src.Path, src.Path)
	if !errors.Is(err, migerr.ErrSnapshot) {
		t.Errorf("source as working copy: got %v", err)
	}

	_, err = New().Prepare(ctx, dir, filepath.Join(dir, "w.sqlr"))
	if !errors.Is(err, migerr.ErrSnapshot) {
		t.Errorf("directory as source: got %v", err)
	}
}

func TestPrepare_ReplacesStaleCopy(t *testing.T) {
	ctx := context.Background()
	src := testfixtures.NewSourceV25(t)
	working := filepath.Join(t.TempDir(), "working.sqlr")

	if err := os.WriteFile(working, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(working+"-journal", []byte("garbage journal"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := New().Prepare(ctx, src.Path, working); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := os.Stat(working + "-journal"); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale journal survived")
	}
	db, err := sqlite.Open(sqlite.Config{Path: working})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if err := sqlite.QuickCheck(ctx, db); err != nil {
		t.Errorf("QuickCheck: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "working.sqlr")
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := Discard(path); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files left after Discard: %v", entries)
	}
	if err := Discard(path); err != nil {
		t.Errorf("Discard of missing copy: %v", err)
	}
}
