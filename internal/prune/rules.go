package prune

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/ch2migrate/internal/schema"
)

// Rule deletes one class of obsolete rows inside the pruning transaction.
type Rule interface {
	Name() string
	// Table is where the rule deletes; cascades may reach further.
	Table() string
	Apply(ctx context.Context, tx *sql.Tx) (int64, error)
}

// RetainSourceTypes deletes every source whose type is not listed.
// Foreign keys cascade the deletion to journals, composites and kit rows.
type RetainSourceTypes struct {
	Types []schema.SourceType
}

func (r RetainSourceTypes) Name() string  { return "retain-source-types" }
func (r RetainSourceTypes) Table() string { return "source" }

// Predicate is the WHERE clause selecting the rows to delete.
func (r RetainSourceTypes) Predicate() string {
	ids := make([]string, len(r.Types))
	for i, t := range r.Types {
		ids[i] = fmt.Sprintf("%d", int(t))
	}
	return "type NOT IN (" + strings.Join(ids, ", ") + ")"
}

func (r RetainSourceTypes) Apply(ctx context.Context, tx *sql.Tx) (int64, error) {
	if len(r.Types) == 0 {
		return 0, fmt.Errorf("empty source type whitelist would delete every source")
	}
	return affected(tx.ExecContext(ctx, "DELETE FROM source WHERE "+r.Predicate()))
}

// DropOrphanStatisticNames deletes statistic names that no journal row
// references. NOT EXISTS keeps the result independent of join NULL handling.
type DropOrphanStatisticNames struct{}

func (DropOrphanStatisticNames) Name() string  { return "drop-orphan-statistic-names" }
func (DropOrphanStatisticNames) Table() string { return "statistic_name" }

const orphanNamePredicate = `NOT EXISTS (
	SELECT 1 FROM statistic_journal j WHERE j.statistic_name_id = statistic_name.id)`

func (DropOrphanStatisticNames) Apply(ctx context.Context, tx *sql.Tx) (int64, error) {
	return affected(tx.ExecContext(ctx, "DELETE FROM statistic_name WHERE "+orphanNamePredicate))
}

// DropInconsistentComposites deletes composite sources whose component
// count differs from n_components. The delete goes through source so the
// composite row, its components and its journals cascade away together.
// Removing a composite can break another composite that used it as input,
// so the rule repeats until nothing changes.
type DropInconsistentComposites struct{}

func (DropInconsistentComposites) Name() string  { return "drop-inconsistent-composites" }
func (DropInconsistentComposites) Table() string { return "composite_source" }

const inconsistentComposites = `SELECT cs.id FROM composite_source cs
	WHERE cs.n_components <> (
		SELECT COUNT(*) FROM composite_component cc WHERE cc.output_source_id = cs.id)`

func (DropInconsistentComposites) Apply(ctx context.Context, tx *sql.Tx) (int64, error) {
	var total int64
	for {
		n, err := affected(tx.ExecContext(ctx, "DELETE FROM source WHERE id IN ("+inconsistentComposites+")"))
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
