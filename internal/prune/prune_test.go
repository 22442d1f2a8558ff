package prune

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/loykin/ch2migrate/internal/migerr"
	"github.com/loykin/ch2migrate/internal/schema"
	"github.com/loykin/ch2migrate/internal/testfixtures"
)

var retained = []schema.SourceType{
	schema.SourceTypeDiaryTopic,
	schema.SourceTypeSegment,
	schema.SourceTypeComposite,
	schema.SourceTypeItem,
	schema.SourceTypeModel,
}

func TestPrune_Sample(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewSourceV25(t)

	report, err := New().Prune(ctx, d.DB, DefaultPlan(retained))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}

	counts := map[string]int64{
		"source":              testfixtures.PrunedSources,
		"statistic_name":      testfixtures.PrunedStatisticNames,
		"statistic_journal":   testfixtures.PrunedJournals,
		"composite_source":    testfixtures.PrunedComposites,
		"composite_component": testfixtures.PrunedComponents,
		"activity_journal":    0,
		"kit_item":            1,
		"kit_model":           1,
		"topic_journal":       1,
		"topic":               2,
		"segment":             testfixtures.SampleSegments,
	}
	for table, want := range counts {
		if got := d.Count(t, table); got != want {
			t.Errorf("%s has %d rows, want %d", table, got, want)
		}
	}

	names := d.Int64s(t, `SELECT id FROM statistic_name ORDER BY id`)
	if len(names) != 3 || names[0] != 2 || names[1] != 3 || names[2] != 6 {
		t.Errorf("surviving statistic names = %v, want [2 3 6]", names)
	}
	// The sweep must have removed name 5, orphaned by composite 8's cascade
	var sweep int64
	for _, s := range report.Steps {
		if s.Rule == "drop-orphan-statistic-names" {
			sweep += s.Deleted
		}
	}
	if sweep != 3 {
		t.Errorf("orphan rule deleted %d names in total, want 3", sweep)
	}
	if report.Deleted() == 0 || report.Duration <= 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestPrune_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewSourceV25(t)
	if _, err := New().Prune(ctx, d.DB, DefaultPlan(retained)); err != nil {
		t.Fatalf("first Prune: %v", err)
	}
	report, err := New().Prune(ctx, d.DB, DefaultPlan(retained))
	if err != nil {
		t.Fatalf("second Prune: %v", err)
	}
	if report.Deleted() != 0 {
		t.Errorf("second prune deleted %d rows", report.Deleted())
	}
}

func TestPrune_WhitelistScenario(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewDatabase(t, "s.sqlr", 25)
	d.Exec(t,
		`INSERT INTO source (id, type) VALUES (1, 2), (2, 2), (3, 1), (4, 3), (5, 8)`,
		`INSERT INTO statistic_name (id, name, owner, statistic_journal_type) VALUES (1, 'a', 'o', 1), (2, 'b', 'o', 1)`,
		`INSERT INTO statistic_journal (id, type, statistic_name_id, source_id, time) VALUES
			(1, 1, 1, 1, 1), (2, 1, 1, 2, 2), (3, 1, 1, 3, 3), (4, 1, 2, 4, 4), (5, 1, 2, 5, 5)`,
		`INSERT INTO statistic_journal_integer (id, value) VALUES (1, 1), (2, 2), (3, 3), (4, 4), (5, 5)`,
	)

	if _, err := New().Prune(ctx, d.DB, DefaultPlan(retained)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n := d.Count(t, "source"); n != 2 {
		t.Errorf("source rows = %d, want 2", n)
	}
	left := d.Int64s(t, `SELECT source_id FROM statistic_journal ORDER BY id`)
	if len(left) != 2 || left[0] != 4 || left[1] != 5 {
		t.Errorf("journal sources = %v, want [4 5]", left)
	}
	if n := d.Count(t, "statistic_journal_integer"); n != 2 {
		t.Errorf("integer journal rows = %d, want 2", n)
	}
	if n := d.Count(t, "statistic_name"); n != 1 {
		t.Errorf("statistic names = %d, want 1", n)
	}
}

func TestPrune_CompositeScenario(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewDatabase(t, "c.sqlr", 25)
	d.Exec(t,
		`INSERT INTO source (id, type) VALUES (1, 3), (2, 3), (3, 7)`,
		`INSERT INTO composite_source (id, n_components) VALUES (3, 3)`,
		`INSERT INTO composite_component (id, input_source_id, output_source_id) VALUES (1, 1, 3), (2, 2, 3)`,
	)

	if _, err := New().Prune(ctx, d.DB, DefaultPlan(retained)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n := d.Count(t, "composite_source"); n != 0 {
		t.Errorf("composite_source rows = %d, want 0", n)
	}
	if n := d.Count(t, "composite_component"); n != 0 {
		t.Errorf("composite_component rows = %d, want 0", n)
	}
	if n := d.Count(t, "source"); n != 2 {
		t.Errorf("source rows = %d, want 2 (inputs survive)", n)
	}
}

func TestPrune_ChainedComposites(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewDatabase(t, "chain.sqlr", 25)
	// 3 is inconsistent; 4 is consistent but uses 3 as an input
	d.Exec(t,
		`INSERT INTO source (id, type) VALUES (1, 3), (3, 7), (4, 7)`,
		`INSERT INTO composite_source (id, n_components) VALUES (3, 2), (4, 2)`,
		`INSERT INTO composite_component (id, input_source_id, output_source_id) VALUES (1, 1, 3), (2, 1, 4), (3, 3, 4)`,
	)
	if _, err := New().Prune(ctx, d.DB, DefaultPlan(retained)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n := d.Count(t, "composite_source"); n != 0 {
		t.Errorf("composite_source rows = %d, want 0", n)
	}
}

type failingRule struct{}

func (failingRule) Name() string  { return "failing" }
func (failingRule) Table() string { return "source" }
func (failingRule) Apply(ctx context.Context, tx *sql.Tx) (int64, error) {
	return 0, errors.New("simulated failure")
}

func TestPrune_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewSourceV25(t)

	plan := DefaultPlan(retained)
	plan.Rules = append(plan.Rules, failingRule{})

	_, err := New().Prune(ctx, d.DB, plan)
	if !errors.Is(err, migerr.ErrIntegrity) {
		t.Fatalf("Prune err = %v, want integrity error", err)
	}
	var ie *migerr.IntegrityError
	if !errors.As(err, &ie) || ie.Rule != "failing" {
		t.Errorf("rule = %+v", ie)
	}
	if n := d.Count(t, "source"); n != testfixtures.SampleSources {
		t.Errorf("source rows after rollback = %d, want %d", n, testfixtures.SampleSources)
	}
}

func TestPrune_FailedCheckRollsBack(t *testing.T) {
	ctx := context.Background()
	d := testfixtures.NewSourceV25(t)

	plan := DefaultPlan(retained)
	plan.Checks = append(plan.Checks, Check{
		Name:  "no-segments",
		Table: "segment",
		Query: "SELECT COUNT(*) FROM segment",
	})

	_, err := New().Prune(ctx, d.DB, plan)
	var ie *migerr.IntegrityError
	if !errors.As(err, &ie) || ie.Rule != "no-segments" || ie.Table != "segment" {
		t.Fatalf("Prune err = %v", err)
	}
	if n := d.Count(t, "statistic_name"); n != 6 {
		t.Errorf("statistic_name rows after rollback = %d, want 6", n)
	}
}

func TestRetainSourceTypes_EmptyWhitelist(t *testing.T) {
	d := testfixtures.NewSourceV25(t)
	plan := Plan{Rules: []Rule{RetainSourceTypes{}}}
	if _, err := New().Prune(context.Background(), d.DB, plan); !errors.Is(err, migerr.ErrIntegrity) {
		t.Fatalf("err = %v, want integrity error", err)
	}
	if n := d.Count(t, "source"); n != testfixtures.SampleSources {
		t.Errorf("sources deleted despite empty whitelist")
	}
}

func TestRetainSourceTypes_Predicate(t *testing.T) {
	got := RetainSourceTypes{Types: retained}.Predicate()
	if want := "type NOT IN (3, 6, 7, 8, 9)"; got != want {
		t.Errorf("Predicate() = %q, want %q", got, want)
	}
}
