package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

var (
	ejaTitle       string
	ejaCategory    string
	ejaSubcategory string
)

var ejaCmd = &cobra.Command{
	Use:   "eja",
	Short: "Manage EJA classification codes",
	Long:  `Lists and edits the EJA codes visits are classified by.`,
}

var ejaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered EJA codes",
	Args:  cobra.NoArgs,
	RunE:  runEJAList,
}

var ejaAddCmd = &cobra.Command{
	Use:   "add <code>",
	Short: "Register or update an EJA code",
	Args:  cobra.ExactArgs(1),
	RunE:  runEJAAdd,
}

var ejaDeleteCmd = &cobra.Command{
	Use:   "delete <code>",
	Short: "Remove an EJA code",
	Long: `Removes an EJA code. Stored weeks keep the title and category they were
classified with; visits processed afterwards land in the UNREGISTERED bucket.`,
	Args: cobra.ExactArgs(1),
	RunE: runEJADelete,
}

func init() {
	ejaAddCmd.Flags().StringVar(&ejaTitle, "title", "", "Title shown in reports")
	ejaAddCmd.Flags().StringVar(&ejaCategory, "category", "", fmt.Sprintf("Category (%s)", strings.Join(models.Categories, ", ")))
	ejaAddCmd.Flags().StringVar(&ejaSubcategory, "subcategory", "", "Optional subcategory")
	ejaAddCmd.MarkFlagRequired("title")
	ejaAddCmd.MarkFlagRequired("category")

	ejaCmd.AddCommand(ejaListCmd, ejaAddCmd, ejaDeleteCmd)
	rootCmd.AddCommand(ejaCmd)
}

func runEJAList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	entries, err := db.ListClassifications(context.Background())
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No EJA codes registered")
		return nil
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%-8s  %-30s  %-18s  %s\n", "Code", "Title", "Category", "Subcategory")
	fmt.Println("----------------------------------------------------------------------")
	for _, e := range entries {
		fmt.Printf("%-8s  %-30s  %-18s  %s\n", e.Code, e.Title, e.Category, e.Subcategory)
	}
	fmt.Printf("Total: %d codes\n", len(entries))
	return nil
}

func runEJAAdd(cmd *cobra.Command, args []string) error {
	code := normalize.NormalizeCode(args[0])
	if code == "" {
		return fmt.Errorf("code must not be empty")
	}

	category := strings.ToUpper(strings.TrimSpace(ejaCategory))
	if !slices.Contains(models.Categories, category) {
		return fmt.Errorf("unknown category %q (available: %s)", ejaCategory, strings.Join(models.Categories, ", "))
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

	err = db.UpsertClassification(context.Background(), models.Classification{
		Code:        code,
		Title:       strings.TrimSpace(ejaTitle),
		Category:    category,
		Subcategory: strings.TrimSpace(ejaSubcategory),
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ EJA %s saved as %q (%s)\n", code, ejaTitle, category)
	return nil
}

func runEJADelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	removed, err := db.DeleteClassification(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("EJA %s is not registered\n", args[0])
		return nil
	}

	fmt.Printf("✓ EJA %s removed\n", normalize.NormalizeCode(args[0]))
	return nil
}
