package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/trackusage/internal/scheduler"
	"github.com/jgoulah/trackusage/pkg/models"
)

var backfillWeeks int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Process past weeks that are not stored yet",
	Long: `Walks the last N completed weeks from newest to oldest. Weeks that already have
records are skipped and a failed week does not stop the others, so an interrupted
backfill can simply be started again.`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillWeeks, "weeks", 0, "Number of past weeks (default from config, 52)")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Backfill started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	weeks := backfillWeeks
	if weeks <= 0 {
		weeks = cfg.GetBackfillWeeks()
	}

	p, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("Backfilling %d weeks...\n", weeks)
	outcomes := p.runner.RunBackfill(context.Background(), weeks)

	fmt.Println("----------------------------------------------------------")
	fmt.Printf("%-9s  %-10s  %-8s  %8s  %6s  %s\n", "Week", "Start", "Status", "Inserted", "Dups", "Detail")
	fmt.Println("----------------------------------------------------------")

	var inserted, failed, skipped int
	for _, o := range outcomes {
		detail := o.Summary.Message
		if o.Err != nil {
			detail = o.Err.Error()
			failed++
		}
		if o.Summary.Status == models.StatusSkipped {
			skipped++
		}
		inserted += o.Summary.RecordsInserted

		fmt.Printf("%-9s  %-10s  %-8s  %8d  %6d  %s\n",
			scheduler.Label(o.Week),
			o.Week.Start.Format("2006-01-02"),
			o.Summary.Status,
			o.Summary.RecordsInserted,
			o.Summary.DuplicatesIgnored,
			detail)
	}

	fmt.Println("----------------------------------------------------------")
	fmt.Printf("✓ %d weeks checked, %d already stored, %d records inserted\n", len(outcomes), skipped, inserted)
	if failed > 0 {
		return fmt.Errorf("%d of %d weeks failed; rerun backfill to retry them", failed, len(outcomes))
	}
	return nil
}
