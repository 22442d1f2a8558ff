package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/migration"
	"github.com/loykin/ch2migrate/internal/store"
	"github.com/loykin/ch2migrate/pkg/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which stages have completed and, optionally, the run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetBool("history")
		limit, _ := cmd.Flags().GetInt("history-limit")

		doc, err := loadConfigDoc()
		if err != nil {
			return err
		}
		doc.ApplyDefaults()
		if strings.TrimSpace(doc.ScratchDir) == "" {
			return newConfigError(errors.New("scratch directory is required (set --scratch-dir or --source)"))
		}
		ledgerPath := filepath.Join(doc.ScratchDir, constants.LedgerFileName)
		if _, err := os.Stat(ledgerPath); errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No ledger at %s: nothing has run yet\n", ledgerPath)
			return nil
		}
		ledger, err := store.Open(ledgerPath)
		if err != nil {
			return err
		}
		defer func() { _ = ledger.Close() }()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		colorEnabled := doc.Logging.Color != nil && *doc.Logging.Color
		return printStatus(ctx, cmd.OutOrStdout(), ledger, history, limit, colorEnabled)
	},
}

func init() {
	statusCmd.Flags().Bool("history", false, "show stage run history as well")
	statusCmd.Flags().Int("history-limit", 10, "when used with --history, show up to N latest entries")
}

func printStatus(ctx context.Context, out io.Writer, ledger *store.Store, history bool, limit int, color bool) error {
	info, err := status.FromLedger(ctx, ledger, migration.StageOrder, limit)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, info.FormatColorized(history, color))
	return err
}
