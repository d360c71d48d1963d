package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/grok-mind/internal/ui"
	"github.com/samsaffron/grok-mind/internal/usage"
)

var (
	usageDays  int
	usageSince string
	usageDir   string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarise the token usage ledger",
	Long: `Total the usage ledger per day and model. The ledger is written when
usage_log is enabled in the config.

Examples:
  grok-mind usage
  grok-mind usage --days 7
  grok-mind usage --since 2025-01-01`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().IntVar(&usageDays, "days", 30, "Include the last N days")
	usageCmd.Flags().StringVar(&usageSince, "since", "", "Include entries from this date (YYYY-MM-DD); overrides --days")
	usageCmd.Flags().StringVar(&usageDir, "dir", "", "Ledger directory (default $XDG_DATA_HOME/grok-mind/usage)")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	since, err := usageWindow(time.Now(), usageSince, usageDays)
	if err != nil {
		return err
	}

	dir := usageDir
	if dir == "" {
		dir = usage.DefaultDir()
	}

	result := usage.Load(dir, since)
	for _, loadErr := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
	}
	if result.Missing || len(result.Entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No usage recorded in %s since %s\n", dir, since.Format("2006-01-02"))
		return nil
	}

	return writeUsageTable(cmd.OutOrStdout(), usage.Summarize(result.Entries))
}

// usageWindow returns the start of the reporting window.
func usageWindow(now time.Time, since string, days int) (time.Time, error) {
	if since != "" {
		t, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --since date %q: %w", since, err)
		}
		return t, nil
	}
	if days <= 0 {
		return time.Time{}, fmt.Errorf("--days must be positive, got %d", days)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d-days+1, 0, 0, 0, 0, now.Location()), nil
}

func writeUsageTable(out io.Writer, rows []usage.Totals) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "DATE\tMODEL\tQUERIES\tFAILED\tPROMPT\tCOMPLETION\tREASONING\tCACHED\t")

	var total usage.Totals
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			r.Date, ui.Truncate(r.Model, 28), r.Queries, r.Failures,
			r.PromptTokens, r.CompletionTokens, r.ReasoningTokens, r.CachedTokens)
		total.Queries += r.Queries
		total.Failures += r.Failures
		total.PromptTokens += r.PromptTokens
		total.CompletionTokens += r.CompletionTokens
		total.ReasoningTokens += r.ReasoningTokens
		total.CachedTokens += r.CachedTokens
	}

	fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
		total.Queries, total.Failures,
		total.PromptTokens, total.CompletionTokens, total.ReasoningTokens, total.CachedTokens)
	return w.Flush()
}
