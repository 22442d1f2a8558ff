package migration

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/loykin/ch2migrate/internal/dump"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/prune"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/internal/testfixtures"
)

type fixture struct {
	source *testfixtures.Database
	cfg    Config
	ledger *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := testfixtures.NewSourceV25(t)
	scratch := t.TempDir()
	cfg := Config{
		Source:      src.Path,
		ScratchDir:  scratch,
		From:        25,
		To:          26,
		Target:      SqliteTarget(filepath.Join(t.TempDir(), "migrated.sqlr")),
		Compression: "gzip",
	}
	ledger, err := store.Open(cfg.LedgerPath())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return &fixture{source: src, cfg: cfg, ledger: ledger}
}

func (f *fixture) pipeline(t *testing.T, reg *Registry) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f.cfg, reg, f.ledger)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func fileDigest(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return sha256.Sum256(data)
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := fileDigest(t, f.source.Path)

	p := f.pipeline(t, nil)
	if err := p.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fileDigest(t, f.source.Path) != before {
		t.Error("source database was modified")
	}

	target := testfixtures.OpenDatabase(t, f.cfg.Target.SQLite.Path)
	working := testfixtures.OpenDatabase(t, f.cfg.WorkingPath())
	for table, want := range testfixtures.SampleV26Rows {
		if got := target.Count(t, table); got != want {
			t.Errorf("%s has %d rows, want %d", table, got, want)
		}
		if !reflect.DeepEqual(target.Rows(t, table), working.Rows(t, table)) {
			t.Errorf("%s differs between working copy and target", table)
		}
	}
	if v, err := sqlite.ForeignKeyViolations(ctx, target.DB); err != nil || len(v) != 0 {
		t.Errorf("foreign key violations: %v, %v", v, err)
	}
	if v, err := schema.UserVersion(ctx, target.DB); err != nil || v != 26 {
		t.Errorf("target version = %d, %v", v, err)
	}
	if n := target.Count(t, "activity_group"); n != 4 {
		t.Errorf("activity_group has %d rows after seeding", n)
	}

	// composite consistency and orphan freedom survive the load
	bad := target.Int64s(t, `SELECT cs.id FROM composite_source cs
		WHERE cs.n_components != (SELECT COUNT(*) FROM composite_component cc WHERE cc.output_source_id = cs.id)`)
	if len(bad) != 0 {
		t.Errorf("inconsistent composites %v", bad)
	}
	orphans := target.Int64s(t, `SELECT n.id FROM statistic_name n
		WHERE NOT EXISTS (SELECT 1 FROM statistic_journal j WHERE j.statistic_name_id = n.id)`)
	if len(orphans) != 0 {
		t.Errorf("orphan statistic names %v", orphans)
	}

	r := p.Reports()
	if r.Snapshot == nil || r.Prune == nil || len(r.Rewrites) != 1 || r.Manifest == nil || r.Load == nil || r.Seed == nil {
		t.Fatalf("missing reports %+v", r)
	}
	if r.Manifest.Statements != r.Load.Statements || !r.Load.Verified {
		t.Errorf("manifest %d statements, load %d (verified %v)", r.Manifest.Statements, r.Load.Statements, r.Load.Verified)
	}

	// the dump stays behind for audit, with its checksum
	if ok, err := dump.VerifyChecksum(f.cfg.DumpPath()); err != nil || !ok {
		t.Errorf("dump checksum: %v, %v", ok, err)
	}
	rec, err := f.ledger.Get(ctx, StageExtract)
	if err != nil || rec == nil || rec.Artifact != f.cfg.DumpPath() || len(rec.Checksum) != 64 {
		t.Errorf("extract ledger record %+v, %v", rec, err)
	}
}

func TestPipeline_Resume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.pipeline(t, nil).Run(ctx, RunOptions{To: StageExtract}); err != nil {
		t.Fatalf("first half: %v", err)
	}
	if _, err := os.Stat(f.cfg.Target.SQLite.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("target created before init-target ran")
	}

	second := f.pipeline(t, nil)
	if err := second.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	r := second.Reports()
	if r.Snapshot != nil || r.Prune != nil || r.Manifest != nil {
		t.Error("completed stages ran again")
	}
	if r.Load == nil || r.Seed == nil {
		t.Error("remaining stages did not run")
	}

	// everything completed: a third run does nothing
	third := f.pipeline(t, nil)
	if err := third.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if r := third.Reports(); r.Load != nil || r.Seed != nil {
		t.Error("third run should skip every stage")
	}

	steps, err := third.Plan(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range steps {
		if !s.Completed || s.WillRun {
			t.Errorf("plan step %+v", s)
		}
	}
}

func TestPipeline_SingleStageNeedsPredecessors(t *testing.T) {
	f := newFixture(t)
	err := f.pipeline(t, nil).Run(context.Background(), RunOptions{From: StageLoad, To: StageLoad})
	if err == nil || !strings.Contains(err.Error(), "prepare-snapshot has not completed") {
		t.Fatalf("expected predecessor error, got %v", err)
	}
}

func TestPipeline_ForcedStageRerun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.pipeline(t, nil).Run(ctx, RunOptions{To: StageExtract}); err != nil {
		t.Fatal(err)
	}

	// extracting again rewrites the same artifact and invalidates nothing upstream
	p := f.pipeline(t, nil)
	if err := p.Run(ctx, RunOptions{From: StageExtract, To: StageExtract, Force: true}); err != nil {
		t.Fatalf("rerun extract: %v", err)
	}
	if p.Reports().Manifest == nil {
		t.Error("extract did not run")
	}
	for _, stage := range []string{StagePrepareSnapshot, StagePrune, StageTransform, StageExtract} {
		if ok, _ := f.ledger.IsCompleted(ctx, stage); !ok {
			t.Errorf("%s lost its completion record", stage)
		}
	}
}

func TestPipeline_IntegrityFailureDiscardsWorkingCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tr := Transition25To26()
	tr.Prune = prune.Plan{
		Rules: tr.Prune.Rules,
		Checks: []prune.Check{{
			Name:  "always-fails",
			Table: "source",
			Query: "SELECT COUNT(*) FROM source",
		}},
	}
	reg := NewRegistry()
	if err := reg.Register(tr); err != nil {
		t.Fatal(err)
	}

	err := f.pipeline(t, reg).Run(ctx, RunOptions{})
	if !errors.Is(err, migerr.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if migerr.ExitCode(err) != 11 {
		t.Errorf("exit code = %d", migerr.ExitCode(err))
	}
	if !strings.Contains(err.Error(), "prune: integrity violation") {
		t.Errorf("error lacks stage context: %v", err)
	}
	if _, err := os.Stat(f.cfg.WorkingPath()); !errors.Is(err, os.ErrNotExist) {
		t.Error("working copy survived an integrity failure")
	}
	if ok, _ := f.ledger.IsCompleted(ctx, StagePrepareSnapshot); ok {
		t.Error("snapshot stage still marked completed")
	}
	runs, err := f.ledger.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var failed bool
	for _, r := range runs {
		if r.Stage == StagePrune && r.Failed {
			failed = true
		}
	}
	if !failed {
		t.Error("failed prune run not recorded")
	}

	// with the default transition the next run starts over from the source
	if err := f.pipeline(t, nil).Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("rerun: %v", err)
	}
}

func TestPipeline_WrongSourceVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.cfg.Source = testfixtures.NewWorkingV26(t).Path

	err := f.pipeline(t, nil).Run(ctx, RunOptions{})
	if !errors.Is(err, migerr.ErrSnapshot) || migerr.ExitCode(err) != 10 {
		t.Fatalf("expected snapshot error, got %v", err)
	}
	if !strings.Contains(err.Error(), "schema version 26, expected 25") {
		t.Errorf("unexpected message: %v", err)
	}
	if _, err := os.Stat(f.cfg.WorkingPath()); !errors.Is(err, os.ErrNotExist) {
		t.Error("working copy of the wrong version kept")
	}
}

func TestPipeline_TargetMustBeNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := os.WriteFile(f.cfg.Target.SQLite.Path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	err := f.pipeline(t, nil).Run(ctx, RunOptions{})
	if !errors.Is(err, migerr.ErrReplay) || !errors.Is(err, schema.ErrTargetNotEmpty) {
		t.Fatalf("expected refused target, got %v", err)
	}
	if ok, _ := f.ledger.IsCompleted(ctx, StageExtract); !ok {
		t.Error("stages before init-target should stay completed")
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	if _, err := NewPipeline(Config{From: 25, To: 26, Target: SqliteTarget("x")}, nil, nil); err == nil {
		t.Error("missing scratch directory should be refused")
	}
	if _, err := NewPipeline(Config{ScratchDir: "s", From: 25, To: 26, Target: SqliteTarget("x"), Compression: "lz4"}, nil, nil); err == nil {
		t.Error("unknown compression should be refused")
	}
	if _, err := NewPipeline(Config{ScratchDir: "s", From: 24, To: 25, Target: SqliteTarget("x")}, nil, nil); !errors.Is(err, ErrNoTransition) {
		t.Errorf("unregistered versions: %v", err)
	}
}
