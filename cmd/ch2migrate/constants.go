package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/ch2migrate/internal/seed"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var constantsCmd = &cobra.Command{
	Use:   "constants",
	Short: "Define, set and read time-varying constants in a migrated database",
}

var constantsDefineCmd = &cobra.Command{
	Use:   "define NAME",
	Short: "Register a constant, or update its description and validator",
	Long:  "Register a constant, or update its description and validator.\n\n" + seed.ValidatorHelp,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		validator, _ := cmd.Flags().GetString("validator")
		raw, _ := cmd.Flags().GetString("value")

		def := seed.Definition{Name: args[0], Description: description, Validator: validator}
		if cmd.Flags().Changed("value") {
			v, err := parseValue(raw)
			if err != nil {
				return err
			}
			def.Value = v
		}
		return withConstants(cmd.Context(), func(ctx context.Context, c *seed.Constants) error {
			if err := c.Define(ctx, def); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✅ defined %s\n", def.Name)
			return nil
		})
	},
}

var constantsSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Set the value of a defined constant from a point in time",
	Long: `Set the value of a defined constant from a point in time.

VALUE is read as YAML, so numbers stay numbers and mappings such as
"{zones: [0.7, 0.8]}" are stored as JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTime(cmd)
		if err != nil {
			return err
		}
		v, err := parseValue(args[1])
		if err != nil {
			return err
		}
		return withConstants(cmd.Context(), func(ctx context.Context, c *seed.Constants) error {
			if err := c.Set(ctx, args[0], v, at); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✅ set %s\n", args[0])
			return nil
		})
	},
}

var constantsGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print the value of a constant in force at a point in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTime(cmd)
		if err != nil {
			return err
		}
		return withConstants(cmd.Context(), func(ctx context.Context, c *seed.Constants) error {
			v, err := c.Get(ctx, args[0], at)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

func init() {
	constantsDefineCmd.Flags().String("description", "", "what the constant means")
	constantsDefineCmd.Flags().String("validator", "", "value check: text, int, float, json or json:key1,key2")
	constantsDefineCmd.Flags().String("value", "", "initial value, in force from the start")
	constantsSetCmd.Flags().String("at", "", "time the value applies from (RFC 3339 or YYYY-MM-DD; default: the start)")
	constantsGetCmd.Flags().String("at", "", "time to read the value at (RFC 3339 or YYYY-MM-DD; default: now)")

	constantsCmd.AddCommand(constantsDefineCmd)
	constantsCmd.AddCommand(constantsSetCmd)
	constantsCmd.AddCommand(constantsGetCmd)
}

// withConstants opens the configured target and hands fn its constants.
func withConstants(ctx context.Context, fn func(context.Context, *seed.Constants) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := openTarget()
	if err != nil {
		return err
	}
	db, dialect, err := target.Open()
	if err != nil {
		return fmt.Errorf("open target %s: %w", target.String(), err)
	}
	defer func() { _ = db.Close() }()
	return fn(ctx, seed.NewConstants(db, dialect))
}

// parseValue reads a command-line value as YAML.
func parseValue(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, newConfigError(errors.New("value must not be empty"))
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, newConfigError(fmt.Errorf("parse value %q: %w", raw, err))
	}
	return v, nil
}

func parseTime(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("at")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, newConfigError(fmt.Errorf("invalid time %q (use RFC 3339 or YYYY-MM-DD)", raw))
}
