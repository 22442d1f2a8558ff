// Package migration binds the stage implementations into a versioned
// pipeline: a registry of hand-written transitions between adjacent schema
// versions, and the stages that carry a database across one of them.
package migration

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loykin/ch2migrate/internal/prune"
	"github.com/loykin/ch2migrate/internal/rewrite"
	"github.com/loykin/ch2migrate/internal/schema"
)

// ErrNoTransition is returned for a version pair the registry cannot bridge.
var ErrNoTransition = errors.New("no transition registered")

// Transition is everything that changes between two adjacent versions.
type Transition struct {
	From int
	To   int
	Name string
	// RetainedSourceTypes is the whitelist of source kinds To still models.
	RetainedSourceTypes []schema.SourceType
	// Prune is applied to the working copy before any rewrite.
	Prune prune.Plan
	// Rewrites reshape tables of the working copy, in order.
	Rewrites []rewrite.TableRewrite
	// Tables are extracted from the rewritten working copy and replayed
	// into the target. Anything else is left behind.
	Tables []string
}

func (t Transition) String() string {
	return fmt.Sprintf("%d->%d (%s)", t.From, t.To, t.Name)
}

func (t Transition) validate() error {
	if t.To != t.From+1 {
		return fmt.Errorf("transition %s must go to the next version", t)
	}
	if len(t.Tables) == 0 {
		return fmt.Errorf("transition %s carries no tables", t)
	}
	return nil
}

// Registry maps version pairs to transitions.
type Registry struct {
	transitions map[int]Transition // keyed by From
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transitions: make(map[int]Transition)}
}

// DefaultRegistry holds every built-in transition.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Register(Transition25To26()); err != nil {
		panic(err)
	}
	return r
}

// Register adds t. Each version may be left by only one transition.
func (r *Registry) Register(t Transition) error {
	if err := t.validate(); err != nil {
		return err
	}
	if old, ok := r.transitions[t.From]; ok {
		return fmt.Errorf("version %d already has transition %s", t.From, old)
	}
	r.transitions[t.From] = t
	return nil
}

// Lookup returns the transition from from to to.
func (r *Registry) Lookup(from, to int) (Transition, error) {
	t, ok := r.transitions[from]
	if !ok || t.To != to {
		return Transition{}, fmt.Errorf("%w for %d->%d", ErrNoTransition, from, to)
	}
	return t, nil
}

// Path returns the chain of transitions leading from from to to, in order.
func (r *Registry) Path(from, to int) ([]Transition, error) {
	if to <= from {
		return nil, fmt.Errorf("%w for %d->%d: target must be newer", ErrNoTransition, from, to)
	}
	var path []Transition
	for v := from; v < to; v++ {
		t, ok := r.transitions[v]
		if !ok {
			return nil, fmt.Errorf("%w for %d->%d", ErrNoTransition, v, v+1)
		}
		path = append(path, t)
	}
	return path, nil
}

// Transitions lists the registered transitions by source version.
func (r *Registry) Transitions() []Transition {
	out := make([]Transition, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// retained25 is the whitelist of source kinds version 26 keeps.
var retained25 = []schema.SourceType{
	schema.SourceTypeDiaryTopic,
	schema.SourceTypeSegment,
	schema.SourceTypeComposite,
	schema.SourceTypeItem,
	schema.SourceTypeModel,
}

// segmentKey lists every descriptive column of a segment; two rows that
// agree on all of them describe the same segment.
var segmentKey = []string{"start_lat", "start_lon", "finish_lat", "finish_lon", "distance", "name", "description"}

// Transition25To26 drops activity data, which version 26 re-derives from
// the original files, and detaches segments from activity groups.
func Transition25To26() Transition {
	return Transition{
		From:                25,
		To:                  26,
		Name:                "detach-segments",
		RetainedSourceTypes: retained25,
		Prune:               prune.DefaultPlan(retained25),
		Rewrites: []rewrite.TableRewrite{{
			Table:  "segment",
			Create: schema.SegmentV26,
			Columns: []rewrite.Column{
				{Name: "id", Expr: rewrite.IdentityNull},
				{Name: "start_lat"}, {Name: "start_lon"},
				{Name: "finish_lat"}, {Name: "finish_lon"},
				{Name: "distance"}, {Name: "name"}, {Name: "description"},
			},
			DistinctOn: segmentKey,
			Indexes:    []string{schema.SegmentNameIndex},
		}},
		Tables: schema.CarriedTables,
	}
}
