// Package prune removes rows that the target schema version no longer
// models, leaving the working copy referentially consistent.
package prune

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

// Plan is the pruning work for one version transition.
type Plan struct {
	// Rules run once, in order.
	Rules []Rule
	// Sweep runs after Rules and repeats until it deletes nothing. Cascades
	// from later rules can recreate the garbage an earlier rule removed.
	Sweep []Rule
	// Checks must all pass before commit.
	Checks []Check
}

// DefaultPlan is the standard three-step prune: whitelist, orphan names,
// inconsistent composites, followed by an orphan sweep.
func DefaultPlan(retain []schema.SourceType) Plan {
	return Plan{
		Rules: []Rule{
			RetainSourceTypes{Types: retain},
			DropOrphanStatisticNames{},
			DropInconsistentComposites{},
		},
		Sweep: []Rule{DropOrphanStatisticNames{}},
		Checks: []Check{
			SourceTypesRetained(retain),
			NoOrphanStatisticNames(),
			CompositesConsistent(),
			JournalNamesResolve(),
		},
	}
}

// Step is the outcome of one rule application.
type Step struct {
	Rule    string
	Table   string
	Deleted int64
}

// Report summarizes a successful prune.
type Report struct {
	Steps    []Step
	Duration time.Duration
}

// Deleted returns the total rows deleted directly by rules, excluding cascades.
func (r *Report) Deleted() int64 {
	var n int64
	for _, s := range r.Steps {
		n += s.Deleted
	}
	return n
}

// Pruner applies a Plan to the working copy.
type Pruner struct {
	logger *common.Logger
}

func New() *Pruner {
	return &Pruner{logger: common.GetLogger().WithComponent("pruner")}
}

// Prune runs plan in a single transaction with foreign keys enforced.
// Every failure rolls the transaction back and is reported as an
// IntegrityError, leaving the working copy as it was.
func (p *Pruner) Prune(ctx context.Context, db *sql.DB, plan Plan) (*Report, error) {
	started := time.Now()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, migerr.NewIntegrityError("", "", "acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, migerr.NewIntegrityError("", "", "enable foreign keys", err)
	}
	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		return nil, migerr.NewIntegrityError("", "", "foreign keys could not be enabled; cascades would not fire", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, migerr.NewIntegrityError("", "", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	report := &Report{}
	apply := func(rule Rule) (int64, error) {
		n, err := rule.Apply(ctx, tx)
		if err != nil {
			return 0, migerr.NewIntegrityError(rule.Name(), rule.Table(), "rule failed", err)
		}
		report.Steps = append(report.Steps, Step{Rule: rule.Name(), Table: rule.Table(), Deleted: n})
		p.logger.WithTable(rule.Table()).Info("prune rule applied", "rule", rule.Name(), "deleted", n)
		return n, nil
	}

	for _, rule := range plan.Rules {
		if _, err := apply(rule); err != nil {
			return nil, err
		}
	}
	for {
		var swept int64
		for _, rule := range plan.Sweep {
			n, err := apply(rule)
			if err != nil {
				return nil, err
			}
			swept += n
		}
		if swept == 0 {
			break
		}
	}

	if err := p.verify(ctx, tx, plan.Checks); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, migerr.NewIntegrityError("", "", "commit", err)
	}
	report.Duration = time.Since(started)
	p.logger.Info("prune completed", "deleted", report.Deleted(), "duration", report.Duration)
	return report, nil
}

func (p *Pruner) verify(ctx context.Context, tx *sql.Tx, checks []Check) error {
	violations, err := sqlite.ForeignKeyViolations(ctx, tx)
	if err != nil {
		return migerr.NewIntegrityError("foreign-key-check", "", "", err)
	}
	if len(violations) > 0 {
		return migerr.NewIntegrityError("foreign-key-check", violations[0].Table,
			fmt.Sprintf("%d dangling references, first %s", len(violations), violations[0]), nil)
	}
	for _, c := range checks {
		n, err := c.count(ctx, tx)
		if err != nil {
			return migerr.NewIntegrityError(c.Name, c.Table, "", err)
		}
		if n > 0 {
			return migerr.NewIntegrityError(c.Name, c.Table, fmt.Sprintf("%d rows violate the postcondition", n), nil)
		}
	}
	return nil
}
