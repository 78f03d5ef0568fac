package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteYear int
	deleteWeek int
	deleteYes  bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the stored records of one week",
	Long: `Removes every record of an ISO week so it can be processed again with run or
backfill. Stored records are never updated in place; this is how corrections are made.`,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().IntVar(&deleteYear, "year", 0, "ISO year of the week")
	deleteCmd.Flags().IntVar(&deleteWeek, "week", 0, "ISO week number")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")
	deleteCmd.MarkFlagRequired("year")
	deleteCmd.MarkFlagRequired("week")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if deleteWeek < 1 || deleteWeek > 53 {
		return fmt.Errorf("--week must be between 1 and 53")
	}

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
	count, err := db.CountWeek(ctx, deleteYear, deleteWeek)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Printf("No records stored for week %d/%d\n", deleteWeek, deleteYear)
		return nil
	}

	if !deleteYes {
		fmt.Printf("Delete %d records of week %d/%d? [y/N] ", count, deleteWeek, deleteYear)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	removed, err := db.DeleteWeek(ctx, deleteYear, deleteWeek)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Deleted %d records of week %d/%d\n", removed, deleteWeek, deleteYear)
	return nil
}
