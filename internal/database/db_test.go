package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/trackusage/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func usage(entity string, week int, start time.Time, key string) models.WeeklyUsage {
	entry := start.Add(8 * time.Hour)
	exit := entry.Add(90 * time.Minute)
	return models.WeeklyUsage{
		WeekNumber:         week,
		Year:               start.Year(),
		StartDate:          start,
		EndDate:            start.AddDate(0, 0, 6),
		EntityName:         entity,
		ClassificationCode: "35",
		Title:              "Program Falcon",
		Category:           models.CategoryPrograms,
		DurationMinutes:    90,
		EntryTime:          &entry,
		ExitTime:           &exit,
		DedupKey:           key,
	}
}

func TestInsertAndListWeekUsage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	monday := day(2024, 1, 1)

	n, err := db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{
		usage("ABC123", 1, monday, "k1"),
		usage("XYZ", 1, monday, "k2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := db.ListWeekUsage(ctx, 2024, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, monday, records[0].StartDate)
	assert.Equal(t, 90.0, records[0].DurationMinutes)
	require.NotNil(t, records[0].EntryTime)
	assert.Equal(t, 8, records[0].EntryTime.Hour())

	count, err := db.CountWeek(ctx, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStoredDatesUseConfiguredTimezone(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC-3", -3*3600)
	db, err := NewInLocation(filepath.Join(t.TempDir(), "tz.db"), loc)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	monday := time.Date(2024, 1, 8, 0, 0, 0, 0, loc)
	_, err = db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{usage("ABC123", 2, monday, "k1")})
	require.NoError(t, err)

	records, err := db.ListWeekUsage(ctx, 2024, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, loc, records[0].StartDate.Location())
	assert.True(t, monday.Equal(records[0].StartDate))
	assert.True(t, monday.AddDate(0, 0, 6).Equal(records[0].EndDate))
	require.NotNil(t, records[0].EntryTime)
	assert.True(t, monday.Add(8*time.Hour).Equal(*records[0].EntryTime))
	assert.Equal(t, loc, records[0].EntryTime.Location())
}

func TestInsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	monday := day(2024, 1, 1)

	_, err := db.conn.Exec(`
	CREATE TRIGGER fail_on_poison BEFORE INSERT ON weekly_usage
	WHEN NEW.entity_name = 'POISON'
	BEGIN
		SELECT RAISE(ABORT, 'poisoned record');
	END;
	`)
	require.NoError(t, err)

	var batch []models.WeeklyUsage
	for i := 0; i < 10; i++ {
		name := "CAR"
		if i == 3 {
			name = "POISON"
		}
		batch = append(batch, usage(name, 1, monday, "key-"+string(rune('a'+i))))
	}

	_, err = db.InsertWeeklyUsage(ctx, batch)
	require.Error(t, err)

	count, err := db.CountWeek(ctx, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInsertDuplicateKeyIsReported(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	monday := day(2024, 1, 1)

	_, err := db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{usage("A", 1, monday, "same")})
	require.NoError(t, err)

	_, err = db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{
		usage("B", 1, monday, "other"),
		usage("A", 1, monday, "same"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	count, err := db.CountWeek(ctx, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExistingKeysUsesInclusiveOverlap(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{
		usage("A", 1, day(2024, 1, 1), "week1"),
		usage("B", 2, day(2024, 1, 8), "week2"),
		usage("C", 52, day(2023, 12, 25), "week52"),
	})
	require.NoError(t, err)

	keys, err := db.ExistingKeys(ctx, day(2024, 1, 5), day(2024, 1, 10))
	require.NoError(t, err)
	assert.Contains(t, keys, "week1")
	assert.Contains(t, keys, "week2")
	assert.NotContains(t, keys, "week52")

	keys, err = db.ExistingKeys(ctx, day(2024, 1, 7), day(2024, 1, 7))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, keys, "week1")

	keys, err = db.ExistingKeys(ctx, day(2024, 2, 1), day(2024, 2, 7))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListAndDeleteWeeks(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{
		usage("A", 1, day(2024, 1, 1), "a1"),
		usage("A", 1, day(2024, 1, 1), "a2"),
		usage("B", 1, day(2024, 1, 1), "b1"),
		usage("B", 2, day(2024, 1, 8), "b2"),
	})
	require.NoError(t, err)

	weeks, err := db.ListWeeks(ctx)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, 2, weeks[0].WeekNumber)
	assert.Equal(t, 1, weeks[1].WeekNumber)
	assert.Equal(t, 2, weeks[1].EntityCount)
	assert.Equal(t, 3, weeks[1].RecordCount)
	assert.Equal(t, 270.0, weeks[1].TotalMinutes)
	assert.Equal(t, "2024-01-01", weeks[1].StartDate)

	removed, err := db.DeleteWeek(ctx, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	weeks, err = db.ListWeeks(ctx)
	require.NoError(t, err)
	assert.Len(t, weeks, 1)
}

func TestRecentUsageAndCategoryTotals(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	other := usage("Z", 1, day(2024, 1, 1), "z1")
	other.Category = models.CategoryExternalSales
	_, err := db.InsertWeeklyUsage(ctx, []models.WeeklyUsage{
		usage("A", 1, day(2024, 1, 1), "a1"),
		other,
		usage("B", 2, day(2024, 1, 8), "b2"),
		usage("C", 3, day(2024, 1, 15), "c3"),
	})
	require.NoError(t, err)

	recent, err := db.ListRecentUsage(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].WeekNumber)

	sales, err := db.ListRecentUsage(ctx, 0, []string{models.CategoryExternalSales})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "Z", sales[0].EntityName)

	totals, err := db.CategoryTotals(ctx, 3)
	require.NoError(t, err)
	require.Len(t, totals, 4)
	assert.Equal(t, 3, totals[0].WeekNumber)
}

func TestClassificationCRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.UpsertClassification(ctx, models.Classification{Code: "35.0", Title: "Program Falcon", Category: models.CategoryPrograms}))
	require.NoError(t, db.UpsertClassification(ctx, models.Classification{Code: " 35 ", Title: "Program Falcon II", Category: models.CategoryPrograms}))
	require.Error(t, db.UpsertClassification(ctx, models.Classification{Code: "", Title: "x"}))

	all, err := db.ListClassifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "35", all[0].Code)
	assert.Equal(t, "Program Falcon II", all[0].Title)

	got, err := db.GetClassification(ctx, "35")
	require.NoError(t, err)
	require.NotNil(t, got)

	missing, err := db.GetClassification(ctx, "99")
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := db.DeleteClassification(ctx, "35")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.DeleteClassification(ctx, "35")
	require.NoError(t, err)
	assert.False(t, deleted)
}
