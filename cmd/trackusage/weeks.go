package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/trackusage/internal/normalize"
)

var weeksCmd = &cobra.Command{
	Use:   "weeks",
	Short: "List processed weeks",
	Long:  `Displays every week stored in the database with its entity and record counts.`,
	RunE:  runWeeks,
}

func init() {
	rootCmd.AddCommand(weeksCmd)
}

func runWeeks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	weeks, err := db.ListWeeks(context.Background())
	if err != nil {
		return fmt.Errorf("listing weeks: %w", err)
	}

	if len(weeks) == 0 {
		fmt.Println("No weeks processed yet")
		return nil
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("%-6s  %-4s  %-10s  %-10s  %8s  %8s  %10s\n", "Year", "Week", "Start", "End", "Vehicles", "Records", "Hours")
	fmt.Println("------------------------------------------------------------------")

	var records int
	for _, w := range weeks {
		fmt.Printf("%-6d  %-4d  %-10s  %-10s  %8s  %8s  %10s\n",
			w.Year, w.WeekNumber, w.StartDate, w.EndDate,
			humanize.Comma(int64(w.EntityCount)),
			humanize.Comma(int64(w.RecordCount)),
			normalize.FormatMinutes(w.TotalMinutes))
		records += w.RecordCount
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("Total: %d weeks (%s records)\n", len(weeks), humanize.Comma(int64(records)))
	return nil
}
