package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/testfixtures"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configure points the global viper at a fresh source, scratch directory
// and target, and clears everything again when the test ends.
func configure(t *testing.T) (source, scratch, target string) {
	t.Helper()
	src := testfixtures.NewSourceV25(t)
	dir := t.TempDir()
	scratch = filepath.Join(dir, "scratch")
	target = filepath.Join(dir, "migrated.sqlr")

	v := viper.GetViper()
	settings := map[string]any{
		"config":      "",
		"source":      src.Path,
		"scratch_dir": scratch,
		"target":      target,
		"compression": "gzip",
	}
	for k, val := range settings {
		v.Set(k, val)
	}
	t.Cleanup(func() {
		for k := range settings {
			v.Set(k, "")
		}
	})
	return src.Path, scratch, target
}

func execute(t *testing.T, cmd *cobra.Command, args []string, flags map[string]string) (string, error) {
	t.Helper()
	for name, val := range flags {
		if err := cmd.Flags().Set(name, val); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	defer func() {
		for name := range flags {
			f := cmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}()
	var out bytes.Buffer
	cmd.SetOut(&out)
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

func findCommand(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := rootCmd.Find(path)
	if err != nil {
		t.Fatalf("find %v: %v", path, err)
	}
	return cmd
}

func TestCLI_Run_DryRunThenRun(t *testing.T) {
	_, scratch, target := configure(t)

	out, err := execute(t, runCmd, nil, map[string]string{"dry-run": "true"})
	if err != nil {
		t.Fatalf("dry-run: %v", err)
	}
	if !strings.Contains(out, "detach-segments (25 -> 26)") || strings.Count(out, "▶️") != 7 {
		t.Errorf("unexpected plan:\n%s", out)
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("dry-run created the target")
	}

	out, err = execute(t, runCmd, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"✅ prepare-snapshot", "✅ prune", "✅ transform: segment", "✅ extract", "statements: ", "✅ load", "✅ seed: 4 groups"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(scratch, "dump-25-26.sql.gz")); err != nil {
		t.Errorf("dump artifact: %v", err)
	}
	db := testfixtures.OpenDatabase(t, target)
	if n := db.Count(t, "activity_group"); n != 4 {
		t.Errorf("activity_group has %d rows", n)
	}

	// nothing left to do
	out, err = execute(t, runCmd, nil, nil)
	if err != nil || !strings.Contains(out, "Nothing to do") {
		t.Errorf("second run: %v\n%s", err, out)
	}

	out, err = execute(t, statusCmd, nil, map[string]string{"history": "true", "history-limit": "3"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out, "pending") || strings.Count(out, "completed") != 7 {
		t.Errorf("status:\n%s", out)
	}
	_, hist, ok := strings.Cut(out, "History (newest first):\n")
	if !ok || len(strings.Split(strings.TrimSpace(hist), "\n")) != 3 {
		t.Errorf("history:\n%s", out)
	}
}

func TestCLI_StageCommands(t *testing.T) {
	configure(t)

	_, err := execute(t, findCommand(t, "load"), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "has not completed") {
		t.Fatalf("load before extract: %v", err)
	}

	for _, stage := range []string{"prepare-snapshot", "prune", "transform", "extract"} {
		out, err := execute(t, findCommand(t, stage), nil, nil)
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if !strings.Contains(out, "✅ "+stage) {
			t.Errorf("%s output:\n%s", stage, out)
		}
	}

	// a stage command reruns even when completed
	out, err := execute(t, findCommand(t, "extract"), nil, nil)
	if err != nil || !strings.Contains(out, "from_version: 25") {
		t.Errorf("extract rerun: %v\n%s", err, out)
	}
}

func TestCLI_Status_NoLedger(t *testing.T) {
	configure(t)
	out, err := execute(t, statusCmd, nil, nil)
	if err != nil || !strings.Contains(out, "nothing has run yet") {
		t.Errorf("status: %v\n%s", err, out)
	}
}

func TestCLI_Constants(t *testing.T) {
	configure(t)
	if _, err := execute(t, runCmd, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := execute(t, findCommand(t, "constants", "set"), []string{"ftp.bike", "250"}, nil); err != nil {
		t.Fatalf("set ftp.bike: %v", err)
	}
	if _, err := execute(t, findCommand(t, "constants", "set"), []string{"ftp.bike", "265"}, map[string]string{"at": "2026-01-01"}); err != nil {
		t.Fatalf("set ftp.bike later: %v", err)
	}
	get := findCommand(t, "constants", "get")
	out, err := execute(t, get, []string{"ftp.bike"}, map[string]string{"at": "2025-06-01"})
	if err != nil || strings.TrimSpace(out) != "250" {
		t.Errorf("get before change = %q, %v", out, err)
	}
	out, err = execute(t, get, []string{"ftp.bike"}, map[string]string{"at": "2026-02-01T00:00:00Z"})
	if err != nil || strings.TrimSpace(out) != "265" {
		t.Errorf("get after change = %q, %v", out, err)
	}

	if _, err := execute(t, findCommand(t, "constants", "set"), []string{"ftp.bike", "strong"}, nil); err == nil {
		t.Error("non-integer value accepted")
	}
	if _, err := execute(t, findCommand(t, "constants", "set"), []string{"vo2max", "55"}, nil); err == nil {
		t.Error("undefined constant accepted")
	}

	define := findCommand(t, "constants", "define")
	if _, err := execute(t, define, []string{"zones.run"}, map[string]string{
		"validator": "json:zones",
		"value":     "{zones: [0.7, 0.8]}",
	}); err != nil {
		t.Fatalf("define: %v", err)
	}
	out, err = execute(t, get, []string{"zones.run"}, nil)
	if err != nil || strings.TrimSpace(out) != `{"zones":[0.7,0.8]}` {
		t.Errorf("get zones.run = %q, %v", out, err)
	}
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{newConfigError(errors.New("bad flag")), 2},
		{fmt.Errorf("wrapped: %w", newConfigError(errors.New("bad"))), 2},
		{migerr.NewSnapshotError("/x", "locked", nil), 10},
		{fmt.Errorf("stage prune failed: %w", migerr.WithStage(migerr.NewSnapshotError("/x", "gone", nil), "prune")), 10},
		{errors.New("boom"), 1},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.code {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.code)
		}
	}
}

func TestDefaultExitHandler_UsesFailureClass(t *testing.T) {
	code := -1
	h := &DefaultExitHandler{exit: func(c int) { code = c }}
	h.LogFatalError(newConfigError(errors.New("unknown flag --sorce")), "command execution failed")
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	h.LogFatalError(migerr.NewSnapshotError("/x", "source is locked by another writer", nil), "command execution failed")
	if code != 10 {
		t.Errorf("exit code = %d, want 10", code)
	}
}

func TestConfigFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ch2migrate.yaml")
	body := `source: /data/database.sqlr
compression: zstd
target:
  sqlite:
    path: /data/new.sqlr
`
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	v := viper.GetViper()
	v.Set("config", cfgPath)
	v.Set("compression", "gzip")
	t.Cleanup(func() { v.Set("config", ""); v.Set("compression", "") })

	doc, err := loadConfigDoc()
	if err != nil {
		t.Fatalf("loadConfigDoc: %v", err)
	}
	if doc.Source != "/data/database.sqlr" || doc.Compression != "gzip" || doc.Target.SQLite.Path != "/data/new.sqlr" {
		t.Errorf("doc %+v", doc)
	}

	v.Set("config", filepath.Join(dir, "missing.yaml"))
	if _, err := loadConfigDoc(); exitCode(err) != 2 {
		t.Errorf("missing config file: %v", err)
	}
}

func TestParseValue(t *testing.T) {
	for raw, want := range map[string]any{
		"250":   250,
		"72.5":  72.5,
		"hello": "hello",
	} {
		got, err := parseValue(raw)
		if err != nil || got != want {
			t.Errorf("parseValue(%q) = %v, %v", raw, got, err)
		}
	}
	if m, err := parseValue("{zones: [0.7]}"); err != nil {
		t.Error(err)
	} else if _, ok := m.(map[string]any); !ok {
		t.Errorf("mapping decoded as %T", m)
	}
	if _, err := parseValue("  "); exitCode(err) != 2 {
		t.Errorf("empty value: %v", err)
	}
}
