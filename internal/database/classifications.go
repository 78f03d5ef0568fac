package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

// ListClassifications returns the full EJA reference table ordered by code
func (db *DB) ListClassifications(ctx context.Context) ([]models.Classification, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT code, title, category, subcategory
	FROM classifications
	ORDER BY category, code
	`)
	if err != nil {
		return nil, fmt.Errorf("querying classifications: %w", err)
	}
	defer rows.Close()

	var results []models.Classification
	for rows.Next() {
		var c models.Classification
		if err := rows.Scan(&c.Code, &c.Title, &c.Category, &c.Subcategory); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, c)
	}

	return results, rows.Err()
}

// GetClassification retrieves one entry, or nil when the code is unknown
func (db *DB) GetClassification(ctx context.Context, code string) (*models.Classification, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT code, title, category, subcategory
	FROM classifications
	WHERE code = ?
	`, normalize.NormalizeCode(code))

	var c models.Classification
	err := row.Scan(&c.Code, &c.Title, &c.Category, &c.Subcategory)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying classification: %w", err)
	}
	return &c, nil
}

// UpsertClassification inserts or replaces an entry keyed by its normalized code
func (db *DB) UpsertClassification(ctx context.Context, c models.Classification) error {
	code := normalize.NormalizeCode(c.Code)
	if code == "" {
		return fmt.Errorf("classification code is required")
	}
	if c.Title == "" {
		return fmt.Errorf("classification title is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO classifications (code, title, category, subcategory, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
		title = excluded.title,
		category = excluded.category,
		subcategory = excluded.subcategory,
		updated_at = excluded.updated_at
	`, code, c.Title, c.Category, c.Subcategory, now, now)
	if err != nil {
		return fmt.Errorf("upserting classification %s: %w", code, err)
	}
	return nil
}

// DeleteClassification removes an entry and reports whether it existed
func (db *DB) DeleteClassification(ctx context.Context, code string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM classifications WHERE code = ?`, normalize.NormalizeCode(code))
	if err != nil {
		return false, fmt.Errorf("deleting classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
