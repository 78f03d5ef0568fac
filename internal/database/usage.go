package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

const usageColumns = `id, week_number, year, start_date, end_date, entity_name,
	classification_code, title, category, duration_minutes, entry_time, exit_time, dedup_key`

// InsertWeeklyUsage inserts all records in a single transaction.
// Either every record is committed or none is.
func (db *DB) InsertWeeklyUsage(ctx context.Context, records []models.WeeklyUsage) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO weekly_usage (week_number, year, start_date, end_date, entity_name,
		classification_code, title, category, duration_minutes, entry_time, exit_time,
		dedup_key, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	createdAt := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.WeekNumber,
			r.Year,
			r.StartDate.In(db.loc).Format(normalize.DateLayout),
			r.EndDate.In(db.loc).Format(normalize.DateLayout),
			r.EntityName,
			r.ClassificationCode,
			r.Title,
			r.Category,
			r.DurationMinutes,
			normalize.FormatTimestamp(db.inLocation(r.EntryTime)),
			normalize.FormatTimestamp(db.inLocation(r.ExitTime)),
			r.DedupKey,
			createdAt,
		)
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("inserting %q: %w: %v", r.DedupKey, ErrDuplicateKey, err)
		}
		if err != nil {
			return 0, fmt.Errorf("inserting %q: %w", r.DedupKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return len(records), nil
}

// ExistingKeys returns the dedup keys of every stored week whose date range
// overlaps [start, end], boundaries included.
func (db *DB) ExistingKeys(ctx context.Context, start, end time.Time) (map[string]struct{}, error) {
	query := `
	SELECT dedup_key
	FROM weekly_usage
	WHERE start_date <= ? AND end_date >= ?
	`

	rows, err := db.conn.QueryContext(ctx, query,
		end.In(db.loc).Format(normalize.DateLayout),
		start.In(db.loc).Format(normalize.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying existing keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys[key] = struct{}{}
	}

	return keys, rows.Err()
}

// CountWeek returns the number of records stored for a week
func (db *DB) CountWeek(ctx context.Context, year, week int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM weekly_usage WHERE year = ? AND week_number = ?`,
		year, week,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting week %d/%d: %w", week, year, err)
	}
	return count, nil
}

// DeleteWeek removes every record of a week and returns how many were removed
func (db *DB) DeleteWeek(ctx context.Context, year, week int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM weekly_usage WHERE year = ? AND week_number = ?`,
		year, week,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting week %d/%d: %w", week, year, err)
	}
	return res.RowsAffected()
}

// ListWeeks summarizes every stored week, newest first
func (db *DB) ListWeeks(ctx context.Context) ([]models.WeekStats, error) {
	query := `
	SELECT year, week_number, MIN(start_date), MAX(end_date),
		COUNT(DISTINCT entity_name), COUNT(*), COALESCE(SUM(duration_minutes), 0)
	FROM weekly_usage
	GROUP BY year, week_number
	ORDER BY year DESC, week_number DESC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying weeks: %w", err)
	}
	defer rows.Close()

	var results []models.WeekStats
	for rows.Next() {
		var s models.WeekStats
		if err := rows.Scan(&s.Year, &s.WeekNumber, &s.StartDate, &s.EndDate,
			&s.EntityCount, &s.RecordCount, &s.TotalMinutes); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// ListWeekUsage retrieves the records of one week ordered by entry time
func (db *DB) ListWeekUsage(ctx context.Context, year, week int) ([]models.WeeklyUsage, error) {
	query := `SELECT ` + usageColumns + `
	FROM weekly_usage
	WHERE year = ? AND week_number = ?
	ORDER BY entry_time, entity_name
	`
	return db.queryUsage(ctx, query, year, week)
}

// ListRecentUsage retrieves the records of the most recent stored weeks,
// optionally restricted to some categories
func (db *DB) ListRecentUsage(ctx context.Context, weeks int, categories []string) ([]models.WeeklyUsage, error) {
	var where []string
	var args []any

	if len(categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(categories)), ", ")
		where = append(where, "category IN ("+placeholders+")")
		for _, c := range categories {
			args = append(args, c)
		}
	}

	if weeks > 0 {
		where = append(where, `(year * 100 + week_number) IN (
			SELECT DISTINCT year * 100 + week_number FROM weekly_usage
			ORDER BY 1 DESC
			LIMIT ?
		)`)
		args = append(args, weeks)
	}

	query := `SELECT ` + usageColumns + ` FROM weekly_usage`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY year DESC, week_number DESC, entity_name"

	return db.queryUsage(ctx, query, args...)
}

// CategoryTotals sums stored minutes per week and category for the most recent weeks
func (db *DB) CategoryTotals(ctx context.Context, weeks int) ([]models.CategoryTotal, error) {
	query := `
	SELECT year, week_number, category, SUM(duration_minutes), COUNT(*)
	FROM weekly_usage
	`
	var args []any
	if weeks > 0 {
		query += `WHERE (year * 100 + week_number) IN (
			SELECT DISTINCT year * 100 + week_number FROM weekly_usage
			ORDER BY 1 DESC
			LIMIT ?
		)
		`
		args = append(args, weeks)
	}
	query += `GROUP BY year, week_number, category
	ORDER BY year DESC, week_number DESC, category`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying category totals: %w", err)
	}
	defer rows.Close()

	var results []models.CategoryTotal
	for rows.Next() {
		var t models.CategoryTotal
		if err := rows.Scan(&t.Year, &t.WeekNumber, &t.Category, &t.TotalMinutes, &t.RecordCount); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, t)
	}

	return results, rows.Err()
}

func (db *DB) queryUsage(ctx context.Context, query string, args ...any) ([]models.WeeklyUsage, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage data: %w", err)
	}
	defer rows.Close()

	var results []models.WeeklyUsage
	for rows.Next() {
		var data models.WeeklyUsage
		var startStr, endStr string
		var entryStr, exitStr sql.NullString

		if err := rows.Scan(&data.ID, &data.WeekNumber, &data.Year, &startStr, &endStr,
			&data.EntityName, &data.ClassificationCode, &data.Title, &data.Category,
			&data.DurationMinutes, &entryStr, &exitStr, &data.DedupKey); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		data.StartDate, err = time.ParseInLocation(normalize.DateLayout, startStr, db.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing start_date: %w", err)
		}
		data.EndDate, err = time.ParseInLocation(normalize.DateLayout, endStr, db.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing end_date: %w", err)
		}

		if entryStr.Valid && entryStr.String != "" {
			data.EntryTime = normalize.ParseTimestamp(entryStr.String, db.loc)
		}
		if exitStr.Valid && exitStr.String != "" {
			data.ExitTime = normalize.ParseTimestamp(exitStr.String, db.loc)
		}

		results = append(results, data)
	}

	return results, rows.Err()
}

// inLocation converts a nullable time into the store's timezone
func (db *DB) inLocation(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(db.loc)
	return &local
}
