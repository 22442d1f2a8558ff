package prune

import (
	"context"
	"fmt"

	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/store/connector"
)

// Check is a postcondition evaluated before the pruning transaction
// commits. Query counts offending rows; zero means the check passes.
type Check struct {
	Name  string
	Table string
	Query string
}

func (c Check) count(ctx context.Context, q connector.Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, c.Query).Scan(&n); err != nil {
		return 0, fmt.Errorf("check %s: %w", c.Name, err)
	}
	return n, nil
}

// SourceTypesRetained fails when a source outside types survives.
func SourceTypesRetained(types []schema.SourceType) Check {
	return Check{
		Name:  "source-types-retained",
		Table: "source",
		Query: "SELECT COUNT(*) FROM source WHERE " + RetainSourceTypes{Types: types}.Predicate(),
	}
}

// NoOrphanStatisticNames fails when a statistic name has no journal rows.
func NoOrphanStatisticNames() Check {
	return Check{
		Name:  "no-orphan-statistic-names",
		Table: "statistic_name",
		Query: "SELECT COUNT(*) FROM statistic_name WHERE " + orphanNamePredicate,
	}
}

// CompositesConsistent fails when a composite's component count differs
// from n_components.
func CompositesConsistent() Check {
	return Check{
		Name:  "composites-consistent",
		Table: "composite_source",
		Query: "SELECT COUNT(*) FROM (" + inconsistentComposites + ")",
	}
}

// JournalNamesResolve fails when a journal row points at a missing name.
func JournalNamesResolve() Check {
	return Check{
		Name:  "journal-names-resolve",
		Table: "statistic_journal",
		Query: `SELECT COUNT(*) FROM statistic_journal j
			WHERE NOT EXISTS (SELECT 1 FROM statistic_name n WHERE n.id = j.statistic_name_id)`,
	}
}
