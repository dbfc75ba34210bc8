package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/samsaffron/groq-chat/internal/ui"
	"github.com/samsaffron/groq-chat/internal/usage"
	"github.com/spf13/cobra"
)

var usageJSON bool
var usageSince string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded chat turns per model",
	Long: `Summarize the usage ledger: turns, failures, cancellations and token
counts per model. Only metadata is recorded, never message contents.

Examples:
  groq-chat usage
  groq-chat usage --since 2024-04-01
  groq-chat usage --json`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
	usageCmd.Flags().StringVar(&usageSince, "since", "", "Only count turns on or after this date (YYYY-MM-DD)")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Usage.Dir
	if dir == "" {
		dir = usage.DefaultDir()
	}

	result := usage.Load(dir)
	for _, err := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	entries := result.Entries
	if usageSince != "" {
		since, err := time.Parse("2006-01-02", usageSince)
		if err != nil {
			return fmt.Errorf("invalid --since date: %w", err)
		}
		filtered := entries[:0]
		for _, e := range entries {
			if !e.Timestamp.Before(since) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	totals := usage.Summarize(entries)
	out := cmd.OutOrStdout()
	if usageJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(totals)
	}
	if len(totals) == 0 {
		fmt.Fprintf(out, "No usage recorded in %s\n", dir)
		return nil
	}

	tbl := ui.Table{Header: []string{"MODEL", "TURNS", "FAILED", "CANCELED", "INPUT", "OUTPUT"}}
	for _, t := range totals {
		tbl.AddRow(t.Model,
			strconv.Itoa(t.Turns),
			strconv.Itoa(t.Failed),
			strconv.Itoa(t.Canceled),
			strconv.Itoa(t.InputTokens),
			strconv.Itoa(t.OutputTokens),
		)
	}
	return tbl.Render(out, ui.NewStyles(out))
}
