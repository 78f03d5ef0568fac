package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/internal/report"
	"github.com/jgoulah/trackusage/pkg/models"
)

var (
	reportWeeks    int
	reportCategory string
	reportTop      int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show usage per category and the top titles",
	Long: `Summarizes the most recent stored weeks: hours per category and week, each
category's share of the total and the titles with the most hours in every category.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportWeeks, "weeks", 4, "Number of most recent stored weeks (0 = all)")
	reportCmd.Flags().StringVar(&reportCategory, "category", "", "Only report this category (e.g. PROGRAMS)")
	reportCmd.Flags().IntVar(&reportTop, "top", report.DefaultTop, "Titles listed per category")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	var categories []string
	if reportCategory != "" {
		categories = []string{strings.ToUpper(strings.TrimSpace(reportCategory))}
	}

	records, err := db.ListRecentUsage(ctx, reportWeeks, categories)
	if err != nil {
		return fmt.Errorf("listing usage: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No usage data found")
		return nil
	}

	totals, err := db.CategoryTotals(ctx, reportWeeks)
	if err != nil {
		return fmt.Errorf("loading category totals: %w", err)
	}
	printWeeklyTotals(totals, categories)

	breakdown := report.CategoryBreakdown(records)

	fmt.Println("\nCategory share:")
	fmt.Println("----------------------------------------")
	for _, c := range breakdown {
		fmt.Printf("%-20s  %8s  %5.1f%%\n", c.Category, normalize.FormatMinutes(c.Minutes), c.Share*100)
	}

	for _, c := range breakdown {
		top := report.TopTitles(records, c.Category, reportTop)

		fmt.Printf("\nTop %d %s:\n", len(top), c.Category)
		fmt.Println("----------------------------------------")
		for i, t := range top {
			fmt.Printf("%2d. %-30s  %8s  (%d visits, %d vehicles)\n",
				i+1, t.Title, normalize.FormatMinutes(t.Minutes), t.Visits, t.Entities)
		}
	}

	return nil
}

func printWeeklyTotals(totals []models.CategoryTotal, only []string) {
	fmt.Println("\nHours per week:")
	fmt.Println("----------------------------------------")
	fmt.Printf("%-9s  %-20s  %8s  %7s\n", "Week", "Category", "Hours", "Records")
	fmt.Println("----------------------------------------")

	for _, t := range totals {
		if len(only) > 0 && t.Category != only[0] {
			continue
		}
		fmt.Printf("%d-W%02d  %-20s  %8s  %7d\n",
			t.Year, t.WeekNumber, t.Category, normalize.FormatMinutes(t.TotalMinutes), t.RecordCount)
	}
}
