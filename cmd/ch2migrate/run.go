package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute every pipeline stage not yet completed, in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := migration.RunOptions{From: from, To: to, Force: force}
		if dryRun {
			return showExecutionPlan(cmd.Context(), cmd.OutOrStdout(), opts)
		}
		return runStages(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	runCmd.Flags().String("from", "", "start execution from this stage (inclusive)")
	runCmd.Flags().String("to", "", "execute up to this stage (inclusive)")
	runCmd.Flags().Bool("force", false, "rerun stages already recorded as completed")
	runCmd.Flags().Bool("dry-run", false, "show the execution plan without running")
}

func showExecutionPlan(ctx context.Context, out io.Writer, opts migration.RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, ledger, err := openPipeline()
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	steps, err := p.Plan(ctx, opts)
	if err != nil {
		return err
	}
	cfg := p.Config()
	_, _ = fmt.Fprintf(out, "📋 Execution plan for %s (%d -> %d)\n", p.Transition().Name, cfg.From, cfg.To)
	_, _ = fmt.Fprintf(out, "   source:  %s\n   target:  %s\n   scratch: %s\n\n", cfg.Source, cfg.Target.String(), cfg.ScratchDir)
	for i, s := range steps {
		mark := "⏭️  skip"
		if s.WillRun {
			mark = "▶️  run "
		}
		state := "pending"
		if s.Completed {
			state = "completed"
		}
		_, _ = fmt.Fprintf(out, "%d. %s %-18s %-10s %s\n", i+1, mark, s.Stage, state, s.Description)
	}
	return nil
}
