// Package status summarizes a migration ledger for display.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/ch2migrate/internal/store"
)

// Status display constants
const (
	defaultHistoryLimit = 10 // Default number of history entries to show
	checksumPrefixLen   = 12
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorGray  = "\033[90m"
)

// StageState is the ledger state of one pipeline stage.
type StageState struct {
	Stage       string
	Completed   bool
	CompletedAt time.Time
	Artifact    string
	Checksum    string
}

// Info aggregates stage states, in pipeline order, and recent run history.
type Info struct {
	Stages  []StageState
	History []store.RunRecord
}

// FromLedger collects the state of every stage in order, plus up to limit
// history entries, newest first. limit <= 0 means the default of 10.
func FromLedger(ctx context.Context, ledger *store.Store, order []string, limit int) (Info, error) {
	completed, err := ledger.ListCompleted(ctx)
	if err != nil {
		return Info{}, err
	}
	byStage := make(map[string]store.StageRecord, len(completed))
	for _, rec := range completed {
		byStage[rec.Stage] = rec
	}
	info := Info{Stages: make([]StageState, 0, len(order))}
	for _, name := range order {
		st := StageState{Stage: name}
		if rec, ok := byStage[name]; ok {
			st.Completed = true
			st.CompletedAt = rec.CompletedAt
			st.Artifact = rec.Artifact
			st.Checksum = rec.Checksum
		}
		info.Stages = append(info.Stages, st)
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	info.History, err = ledger.ListRuns(ctx, limit)
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// Done reports whether every stage has completed.
func (i Info) Done() bool {
	for _, s := range i.Stages {
		if !s.Completed {
			return false
		}
	}
	return len(i.Stages) > 0
}

// Format returns a multiline report for CLI output. history adds the run
// history section.
func (i Info) Format(history bool) string {
	return i.FormatColorized(history, false)
}

// FormatColorized is Format with optional ANSI colors.
func (i Info) FormatColorized(history, color bool) string {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	var b strings.Builder
	b.WriteString("Stages:\n")
	for _, s := range i.Stages {
		if !s.Completed {
			fmt.Fprintf(&b, "  ⬜ %-18s %s\n", s.Stage, paint(colorGray, "pending"))
			continue
		}
		fmt.Fprintf(&b, "  ✅ %-18s %s %s", s.Stage, paint(colorGreen, "completed"), humanize.Time(s.CompletedAt))
		if s.Artifact != "" {
			b.WriteString("  " + s.Artifact)
		}
		if s.Checksum != "" {
			b.WriteString("  sha256:" + s.Checksum[:min(checksumPrefixLen, len(s.Checksum))])
		}
		b.WriteString("\n")
	}
	if !history {
		return b.String()
	}

	b.WriteString("\nHistory (newest first):\n")
	if len(i.History) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range i.History {
		mark := "✅"
		if r.Failed {
			mark = "❌"
		}
		fmt.Fprintf(&b, "  %s %s %-18s %8s  run %s", mark, r.RanAt.Format(time.RFC3339), r.Stage, r.Duration.Round(time.Millisecond), shortID(r.RunID))
		if r.Message != "" {
			b.WriteString("  " + paint(colorRed, r.Message))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
