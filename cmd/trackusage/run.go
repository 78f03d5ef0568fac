package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/trackusage/internal/aggregator"
	"github.com/jgoulah/trackusage/pkg/models"
)

var (
	runOffset int
	runStart  string
	runEnd    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Aggregate one week (or an explicit range) of visits",
	Long: `Fetches visits from the access-control report, classifies them and stores the
weekly rollup. Records already stored are ignored, so a week can be rerun safely.

Without flags the current week is processed. --offset N processes the week N weeks
ago, --start/--end process an explicit range (YYYY-MM-DD or Nd for N days ago).`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runOffset, "offset", 0, "Weeks before the current one (0 = current week)")
	runCmd.Flags().StringVar(&runStart, "start", "", "Range start date (YYYY-MM-DD or Nd)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "Range end date, inclusive (YYYY-MM-DD or Nd)")
	runCmd.MarkFlagsRequiredTogether("start", "end")
	runCmd.MarkFlagsMutuallyExclusive("offset", "start")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Run started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	if runOffset < 0 {
		return fmt.Errorf("--offset must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	p, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	req := aggregator.Request{WeekOffset: runOffset}
	if runStart != "" {
		loc := p.agg.Location()
		start, err := parseDate(runStart, loc)
		if err != nil {
			return fmt.Errorf("parsing --start date: %w", err)
		}
		end, err := parseDate(runEnd, loc)
		if err != nil {
			return fmt.Errorf("parsing --end date: %w", err)
		}
		req.Start = start
		req.End = end.AddDate(0, 0, 1).Add(-time.Second)
	}

	summary, err := p.runner.RunOnce(context.Background(), req)
	printSummary(summary)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func printSummary(s models.RunSummary) {
	if s.WeekNumber > 0 {
		fmt.Printf("Week %d/%d (%s to %s)\n", s.WeekNumber, s.Year,
			s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
	} else if !s.Start.IsZero() {
		fmt.Printf("Range %s to %s\n", s.Start.Format("2006-01-02 15:04"), s.End.Format("2006-01-02 15:04"))
	}

	switch s.Status {
	case models.StatusEmpty:
		fmt.Println("No visits found in range")
		return
	case models.StatusError:
		fmt.Printf("✗ Run %s failed: %s\n", s.RunID, s.Error)
		return
	}

	fmt.Printf("✓ Processed %s visits: %s inserted, %s duplicates ignored, %s skipped\n",
		humanize.Comma(int64(s.TotalProcessed)),
		humanize.Comma(int64(s.RecordsInserted)),
		humanize.Comma(int64(s.DuplicatesIgnored)),
		humanize.Comma(int64(s.Skipped)))
	if s.Malformed > 0 || s.Unresolved > 0 {
		fmt.Printf("⚠ %d with unparseable duration, %d without a registered EJA code\n", s.Malformed, s.Unresolved)
	}
}

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err == nil {
		return t, nil
	}

	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(dateStr[:len(dateStr)-1], "%d", &days); err == nil {
			y, m, d := time.Now().In(loc).AddDate(0, 0, -days).Date()
			return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
