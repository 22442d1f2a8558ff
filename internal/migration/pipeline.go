package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/dump"
	"github.com/loykin/ch2migrate/internal/load"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/prune"
	"github.com/loykin/ch2migrate/internal/rewrite"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/seed"
	"github.com/loykin/ch2migrate/internal/snapshot"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
	"github.com/loykin/ch2migrate/pkg/orchestrator"
)

// Stage names, in pipeline order.
const (
	StagePrepareSnapshot = "prepare-snapshot"
	StagePrune           = "prune"
	StageTransform       = "transform"
	StageExtract         = "extract"
	StageInitTarget      = "init-target"
	StageLoad            = "load"
	StageSeed            = "seed"
)

// StageOrder lists every stage name in the order the pipeline runs them.
var StageOrder = []string{
	StagePrepareSnapshot, StagePrune, StageTransform, StageExtract,
	StageInitTarget, StageLoad, StageSeed,
}

// Config describes one migration run.
type Config struct {
	// Source is the database at version From. It is only read.
	Source string
	// ScratchDir holds the working copy, the dump and the ledger.
	ScratchDir string
	From       int
	To         int
	Target     Target
	// Compression of the dump artifact: "none" (default), "gzip" or "zstd".
	Compression string
	// Seed is written into the target after loading. Empty means
	// seed.DefaultConfig.
	Seed seed.Defaults
}

// WorkingPath is the working copy inside the scratch directory.
func (c Config) WorkingPath() string {
	return filepath.Join(c.ScratchDir, constants.WorkingCopyName)
}

// LedgerPath is the run ledger inside the scratch directory.
func (c Config) LedgerPath() string {
	return filepath.Join(c.ScratchDir, constants.LedgerFileName)
}

// DumpPath is the extracted artifact inside the scratch directory.
func (c Config) DumpPath() string {
	name := fmt.Sprintf(constants.DumpFilePattern, c.From, c.To)
	switch strings.ToLower(strings.TrimSpace(c.Compression)) {
	case "gzip", "gz":
		name += ".gz"
	case "zstd", "zst":
		name += ".zst"
	}
	return filepath.Join(c.ScratchDir, name)
}

// Validate checks the parts every stage depends on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ScratchDir) == "" {
		return errors.New("scratch directory is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Compression)) {
	case "", "none", "gzip", "gz", "zstd", "zst":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	return c.Target.Validate()
}

// Reports collects what each stage of the current process produced.
type Reports struct {
	Snapshot *snapshot.Snapshot
	Prune    *prune.Report
	Rewrites []rewrite.Result
	Manifest *dump.Manifest
	Load     *load.Result
	Seed     *seed.Result
}

// Pipeline carries a database across one registered transition.
type Pipeline struct {
	cfg        Config
	transition Transition
	ledger     orchestrator.Ledger

	stager    *snapshot.Stager
	pruner    *prune.Pruner
	rewriter  *rewrite.Rewriter
	extractor *dump.Extractor
	loader    *load.Loader
	seeder    *seed.Seeder

	mu      sync.Mutex
	reports Reports
	logger  *common.Logger
}

// NewPipeline binds cfg to the transition registered for cfg.From to
// cfg.To. A nil ledger disables resume.
func NewPipeline(cfg Config, reg *Registry, ledger orchestrator.Ledger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = DefaultRegistry()
	}
	t, err := reg.Lookup(cfg.From, cfg.To)
	if err != nil {
		return nil, err
	}
	if cfg.Seed.Groups == nil && cfg.Seed.Constants == nil {
		cfg.Seed = seed.DefaultConfig()
	}

	loader := load.New()
	loader.ExpectVersion = t.To
	return &Pipeline{
		cfg:        cfg,
		transition: t,
		ledger:     ledger,
		stager:     snapshot.New(),
		pruner:     prune.New(),
		rewriter:   rewrite.New(),
		extractor:  dump.NewExtractor(t.From, t.To),
		loader:     loader,
		seeder:     seed.NewSeeder(),
		logger:     common.GetLogger().WithComponent("pipeline").WithVersion(t.From, t.To),
	}, nil
}

// Config returns the run configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Transition returns the transition this pipeline applies.
func (p *Pipeline) Transition() Transition { return p.transition }

// Reports returns what the stages run by this process produced.
func (p *Pipeline) Reports() Reports {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reports
}

// Stages returns the pipeline as orchestrator stages.
func (p *Pipeline) Stages() []orchestrator.Stage {
	return []orchestrator.Stage{
		{
			Name:        StagePrepareSnapshot,
			Description: "copy the source into a private working copy",
			Run:         p.wrap(StagePrepareSnapshot, p.prepareSnapshot),
		},
		{
			Name:        StagePrune,
			Description: "delete rows the target version no longer models",
			DependsOn:   []string{StagePrepareSnapshot},
			Run:         p.wrap(StagePrune, p.prune),
			OnFailure:   p.discardOnDamage,
		},
		{
			Name:        StageTransform,
			Description: "rewrite reshaped tables in the working copy",
			DependsOn:   []string{StagePrune},
			Run:         p.wrap(StageTransform, p.transform),
			OnFailure:   p.discardOnDamage,
		},
		{
			Name:        StageExtract,
			Description: "write the carried tables as replayable statements",
			DependsOn:   []string{StageTransform},
			Run:         p.wrap(StageExtract, p.extract),
		},
		{
			Name:        StageInitTarget,
			Description: "create an empty target schema",
			DependsOn:   []string{StageExtract},
			Run:         p.wrap(StageInitTarget, p.initTarget),
		},
		{
			Name:        StageLoad,
			Description: "replay the dump into the target",
			DependsOn:   []string{StageInitTarget},
			Run:         p.wrap(StageLoad, p.load),
		},
		{
			Name:        StageSeed,
			Description: "insert default configuration into the target",
			DependsOn:   []string{StageLoad},
			Run:         p.wrap(StageSeed, p.seed),
		},
	}
}

// RunOptions select which stages to run.
type RunOptions struct {
	// From and To bound the stages run, inclusive. Empty means all.
	From string
	To   string
	// Force reruns stages the ledger marks as completed.
	Force bool
	RunID string
}

// Run executes the selected stages. Stages before From must already be
// recorded as completed in the ledger.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) error {
	o, err := orchestrator.NewOrchestrator(p.Stages(), p.ledger, orchestrator.Options{Force: opts.Force, RunID: opts.RunID})
	if err != nil {
		return err
	}
	if err := p.requirePredecessors(ctx, opts.From); err != nil {
		return err
	}
	p.logger.Info("pipeline started",
		"transition", p.transition.Name,
		"run_id", o.RunID(),
		"source", p.cfg.Source,
		"target", p.cfg.Target.String())
	return o.ExecuteStages(ctx, opts.From, opts.To)
}

// Plan reports what Run would do without running anything.
func (p *Pipeline) Plan(ctx context.Context, opts RunOptions) ([]orchestrator.PlanStep, error) {
	o, err := orchestrator.NewOrchestrator(p.Stages(), p.ledger, orchestrator.Options{Force: opts.Force, RunID: opts.RunID})
	if err != nil {
		return nil, err
	}
	return o.GetExecutionPlan(ctx, opts.From, opts.To)
}

// requirePredecessors refuses to start mid-pipeline unless everything
// before from has completed.
func (p *Pipeline) requirePredecessors(ctx context.Context, from string) error {
	if from == "" || p.ledger == nil {
		return nil
	}
	for _, name := range StageOrder {
		if name == from {
			return nil
		}
		done, err := p.ledger.IsCompleted(ctx, name)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("stage %s has not completed; run it before %s", name, from)
		}
	}
	return fmt.Errorf("unknown stage %q", from)
}

func (p *Pipeline) wrap(name string, fn orchestrator.StageFunc) orchestrator.StageFunc {
	return func(ctx context.Context) (*orchestrator.Outcome, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, migerr.WithStage(err, name)
		}
		return out, nil
	}
}

// discardOnDamage throws the working copy away after a failure that leaves
// it untrustworthy, so the next run starts again from the source.
func (p *Pipeline) discardOnDamage(ctx context.Context, err error) {
	if !migerr.Discards(err) {
		return
	}
	path := p.cfg.WorkingPath()
	p.logger.Warn("discarding working copy", "path", path, "error", err)
	if derr := snapshot.Discard(path); derr != nil {
		p.logger.Error("failed to discard working copy", "path", path, "error", derr)
	}
	if p.ledger != nil {
		if rerr := p.ledger.Reset(context.WithoutCancel(ctx), StageOrder...); rerr != nil {
			p.logger.Error("failed to reset ledger", "error", rerr)
		}
	}
}

func (p *Pipeline) prepareSnapshot(ctx context.Context) (*orchestrator.Outcome, error) {
	if strings.TrimSpace(p.cfg.Source) == "" {
		return nil, migerr.NewSnapshotError("", "source database is required", nil)
	}
	snap, err := p.stager.Prepare(ctx, p.cfg.Source, p.cfg.WorkingPath())
	if err != nil {
		return nil, err
	}
	v, err := workingVersion(ctx, snap.Path)
	if err != nil {
		return nil, migerr.NewSnapshotError(snap.Path, "read schema version", err)
	}
	if v != p.transition.From {
		_ = snapshot.Discard(snap.Path)
		return nil, migerr.NewSnapshotError(p.cfg.Source,
			fmt.Sprintf("source is at schema version %d, expected %d", v, p.transition.From), nil)
	}
	p.record(func(r *Reports) { r.Snapshot = snap })
	return &orchestrator.Outcome{Artifact: snap.Path, Checksum: snap.Checksum}, nil
}

func (p *Pipeline) prune(ctx context.Context) (*orchestrator.Outcome, error) {
	db, err := p.openWorking(ctx, p.transition.From)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	report, err := p.pruner.Prune(ctx, db, p.transition.Prune)
	if err != nil {
		return nil, err
	}
	p.record(func(r *Reports) { r.Prune = report })
	return &orchestrator.Outcome{Artifact: p.cfg.WorkingPath()}, nil
}

func (p *Pipeline) transform(ctx context.Context) (*orchestrator.Outcome, error) {
	db, err := p.openWorking(ctx, p.transition.From, p.transition.To)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	results, err := p.rewriter.ApplyAll(ctx, db, p.transition.Rewrites)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", p.transition.To)); err != nil {
		return nil, migerr.NewStructuralMismatchError("", "stamp schema version", 0, 0, err)
	}
	p.record(func(r *Reports) { r.Rewrites = results })
	return &orchestrator.Outcome{Artifact: p.cfg.WorkingPath()}, nil
}

func (p *Pipeline) extract(ctx context.Context) (*orchestrator.Outcome, error) {
	db, err := p.openWorking(ctx, p.transition.To)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	manifest, sum, err := p.extractor.ExtractFile(ctx, db, p.transition.Tables, p.cfg.DumpPath())
	if err != nil {
		return nil, err
	}
	p.record(func(r *Reports) { r.Manifest = manifest })
	return &orchestrator.Outcome{Artifact: p.cfg.DumpPath(), Checksum: sum}, nil
}

func (p *Pipeline) initTarget(ctx context.Context) (*orchestrator.Outcome, error) {
	if err := p.cfg.Target.Initialize(ctx, p.transition.To); err != nil {
		return nil, migerr.NewReplayError(0, "", "initialize target", err)
	}
	return &orchestrator.Outcome{Artifact: p.cfg.Target.String()}, nil
}

func (p *Pipeline) load(ctx context.Context) (*orchestrator.Outcome, error) {
	db, dialect, err := p.cfg.Target.Open()
	if err != nil {
		return nil, migerr.NewReplayError(0, "", "open target", err)
	}
	defer func() { _ = db.Close() }()

	res, err := p.loader.LoadFile(ctx, db, dialect, p.cfg.DumpPath())
	if err != nil {
		return nil, err
	}
	p.record(func(r *Reports) { r.Load = res })
	return &orchestrator.Outcome{Artifact: p.cfg.Target.String()}, nil
}

func (p *Pipeline) seed(ctx context.Context) (*orchestrator.Outcome, error) {
	db, dialect, err := p.cfg.Target.Open()
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	defer func() { _ = db.Close() }()

	res, err := p.seeder.Seed(ctx, db, dialect, p.cfg.Seed)
	if err != nil {
		return nil, err
	}
	p.record(func(r *Reports) { r.Seed = res })
	return &orchestrator.Outcome{Artifact: p.cfg.Target.String()}, nil
}

// openWorking opens the working copy and checks it is at one of versions.
func (p *Pipeline) openWorking(ctx context.Context, versions ...int) (*sql.DB, error) {
	path := p.cfg.WorkingPath()
	db, err := sqlite.Open(sqlite.Config{Path: path, ForeignKeys: true})
	if err != nil {
		return nil, migerr.NewSnapshotError(path, "open working copy", err)
	}
	v, err := schema.UserVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, migerr.NewSnapshotError(path, "read schema version", err)
	}
	for _, want := range versions {
		if v == want {
			return db, nil
		}
	}
	_ = db.Close()
	return nil, migerr.NewSnapshotError(path,
		fmt.Sprintf("working copy is at schema version %d, expected %v; prepare a new snapshot", v, versions), nil)
}

func workingVersion(ctx context.Context, path string) (int, error) {
	db, err := sqlite.Open(sqlite.Config{Path: path})
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	return schema.UserVersion(ctx, db)
}

func (p *Pipeline) record(fn func(*Reports)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.reports)
}
