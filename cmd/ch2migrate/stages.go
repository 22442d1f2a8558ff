package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var stageShort = map[string]string{
	migration.StagePrepareSnapshot: "Copy the source into a private working copy",
	migration.StagePrune:           "Delete data the new version does not keep from the working copy",
	migration.StageTransform:       "Rewrite tables of the working copy into the new layout",
	migration.StageExtract:         "Write the working copy's carried tables to a dump artifact",
	migration.StageInitTarget:      "Create the target with an empty schema of the new version",
	migration.StageLoad:            "Replay the dump artifact into the target",
	migration.StageSeed:            "Insert default groups and constants into the target",
}

// stageCommands returns one command per pipeline stage. A stage command
// always reruns its stage; the stages before it must have completed.
func stageCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(migration.StageOrder))
	for _, name := range migration.StageOrder {
		name := name
		cmds = append(cmds, &cobra.Command{
			Use:   name,
			Short: stageShort[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStages(cmd.Context(), cmd.OutOrStdout(), migration.RunOptions{From: name, To: name, Force: true})
			},
		})
	}
	return cmds
}

// runStages executes opts against the configured pipeline and reports
// what each stage produced.
func runStages(ctx context.Context, out io.Writer, opts migration.RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, ledger, err := openPipeline()
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	if err := p.Run(ctx, opts); err != nil {
		return err
	}
	return printReports(out, p)
}

func printReports(out io.Writer, p *migration.Pipeline) error {
	r := p.Reports()
	cfg := p.Config()
	ran := false
	if s := r.Snapshot; s != nil {
		ran = true
		_, _ = fmt.Fprintf(out, "✅ %s: copied %s to %s (%s)\n", migration.StagePrepareSnapshot, s.Source, s.Path, humanize.Bytes(uint64(s.Size)))
	}
	if r.Prune != nil {
		ran = true
		_, _ = fmt.Fprintf(out, "✅ %s: %d rows deleted\n", migration.StagePrune, r.Prune.Deleted())
	}
	if r.Rewrites != nil {
		ran = true
		for _, rw := range r.Rewrites {
			if rw.Skipped {
				_, _ = fmt.Fprintf(out, "✅ %s: %s already rewritten\n", migration.StageTransform, rw.Table)
				continue
			}
			_, _ = fmt.Fprintf(out, "✅ %s: %s rewritten (%d -> %d rows)\n", migration.StageTransform, rw.Table, rw.Staged, rw.Copied)
		}
	}
	if m := r.Manifest; m != nil {
		ran = true
		_, _ = fmt.Fprintf(out, "✅ %s: %s\n", migration.StageExtract, cfg.DumpPath())
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		_ = enc.Close()
	}
	if l := r.Load; l != nil {
		ran = true
		_, _ = fmt.Fprintf(out, "✅ %s: %d statements replayed into %s\n", migration.StageLoad, l.Statements, cfg.Target.String())
	}
	if s := r.Seed; s != nil {
		ran = true
		_, _ = fmt.Fprintf(out, "✅ %s: %d groups, %d constants, %d values added\n", migration.StageSeed, s.Groups, s.Constants, s.Values)
	}
	if !ran {
		_, _ = fmt.Fprintln(out, "Nothing to do: every selected stage has completed (use --force to rerun)")
	}
	return nil
}
