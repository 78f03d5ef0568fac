package aggregator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/clock"
	"github.com/jgoulah/trackusage/internal/database"
	"github.com/jgoulah/trackusage/pkg/models"
)

type fakeSource struct {
	visits []models.RawVisit
	err    error
	calls  int
	start  time.Time
	end    time.Time
}

func (f *fakeSource) FetchVisits(ctx context.Context, start, end time.Time) ([]models.RawVisit, error) {
	f.calls++
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	return f.visits, nil
}

// blockingSource never answers before its context ends
type blockingSource struct{}

func (blockingSource) FetchVisits(ctx context.Context, start, end time.Time) ([]models.RawVisit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingStore struct {
	*database.DB
	insertErr error
}

func (s *failingStore) InsertWeeklyUsage(ctx context.Context, records []models.WeeklyUsage) (int, error) {
	return 0, s.insertErr
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewInLocation(filepath.Join(t.TempDir(), "usage.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.UpsertClassification(context.Background(), models.Classification{
		Code: "35", Title: "Program Falcon", Category: models.CategoryPrograms,
	}))
	return db
}

func newAggregator(src *fakeSource, store Store, now time.Time) *Aggregator {
	return New(src, store, clock.NewFake(now), zap.NewNop(), Options{
		RequireExitTime: true,
		Location:        time.UTC,
	})
}

// week 2 of 2024
var (
	weekStart = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	weekEnd   = time.Date(2024, 1, 14, 23, 59, 59, 0, time.UTC)
	wednesday = time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)
)

func falconVisit() models.RawVisit {
	return models.RawVisit{
		EntityName:         "ABC123",
		ClassificationCode: "35",
		DurationText:       "2:15",
		EntryTime:          ts(2024, 1, 10, 9, 0),
		ExitTime:           ts(2024, 1, 10, 11, 15),
	}
}

func TestRunStoresClassifiedVisit(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	src := &fakeSource{visits: []models.RawVisit{falconVisit()}}
	agg := newAggregator(src, db, wednesday)

	summary, err := agg.Run(ctx, Request{Start: weekStart, End: weekEnd})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, summary.Status)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 1, summary.RecordsInserted)
	assert.Equal(t, 2024, summary.Year)
	assert.Equal(t, 2, summary.WeekNumber)

	records, err := db.ListWeekUsage(ctx, 2024, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ABC123", records[0].EntityName)
	assert.Equal(t, "Program Falcon", records[0].Title)
	assert.Equal(t, models.CategoryPrograms, records[0].Category)
	assert.Equal(t, 135.0, records[0].DurationMinutes)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	src := &fakeSource{visits: []models.RawVisit{falconVisit()}}
	agg := newAggregator(src, db, wednesday)

	_, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, summary.Status)
	assert.Equal(t, 0, summary.RecordsInserted)
	assert.Equal(t, 1, summary.DuplicatesIgnored)

	count, err := db.CountWeek(ctx, 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunResolvesOffsetToPreviousWeek(t *testing.T) {
	src := &fakeSource{}
	agg := newAggregator(src, openDB(t), wednesday)

	summary, err := agg.Run(context.Background(), Request{WeekOffset: 1})
	require.NoError(t, err)

	assert.Equal(t, weekStart, src.start)
	assert.Equal(t, weekEnd, src.end)
	assert.Equal(t, 2, summary.WeekNumber)
}

func TestRunEmptyFetch(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	agg := newAggregator(&fakeSource{}, db, wednesday)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmpty, summary.Status)
	assert.Zero(t, summary.RecordsInserted)
}

func TestRunDropsInBatchDuplicates(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	dup := falconVisit()
	dup.EntityName = "abc123 "
	src := &fakeSource{visits: []models.RawVisit{falconVisit(), dup}}
	agg := newAggregator(src, db, wednesday)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecordsInserted)
	assert.Equal(t, 1, summary.DuplicatesIgnored)
}

func TestRunCountsSkippedMalformedAndUnresolved(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	open := falconVisit()
	open.EntityName = "OPEN1"
	open.ExitTime = nil

	broken := falconVisit()
	broken.EntityName = "BROKEN1"
	broken.DurationText = "n/a"

	unknown := falconVisit()
	unknown.EntityName = "UNK1"
	unknown.ClassificationCode = 99

	blank := falconVisit()
	blank.EntityName = "BLANK1"
	blank.ClassificationCode = nil

	src := &fakeSource{visits: []models.RawVisit{open, broken, unknown, blank}}
	agg := newAggregator(src, db, wednesday)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalProcessed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 2, summary.Unresolved)
	assert.Equal(t, 3, summary.RecordsInserted)

	records, err := db.ListWeekUsage(ctx, 2024, 2)
	require.NoError(t, err)
	categories := map[string]string{}
	for _, r := range records {
		categories[r.EntityName] = r.Category
	}
	assert.Equal(t, models.CategoryPrograms, categories["BROKEN1"])
	assert.Equal(t, models.CategoryUnregistered, categories["UNK1"])
	assert.Equal(t, models.CategoryUnclassified, categories["BLANK1"])
}

func TestRunSourceFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	src := &fakeSource{err: errors.New("connection refused")}
	agg := newAggregator(src, db, wednesday)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, models.StatusError, summary.Status)
	assert.Contains(t, summary.Error, "connection refused")

	weeks, err := db.ListWeeks(ctx)
	require.NoError(t, err)
	assert.Empty(t, weeks)
}

func TestRunPersistenceFailure(t *testing.T) {
	db := openDB(t)
	src := &fakeSource{visits: []models.RawVisit{falconVisit()}}

	t.Run("generic", func(t *testing.T) {
		agg := newAggregator(src, &failingStore{DB: db, insertErr: errors.New("disk full")}, wednesday)
		summary, err := agg.Run(context.Background(), Request{WeekOffset: 1})
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, models.StatusError, summary.Status)
	})

	t.Run("duplicate key", func(t *testing.T) {
		store := &failingStore{DB: db, insertErr: fmt.Errorf("inserting: %w", database.ErrDuplicateKey)}
		agg := newAggregator(src, store, wednesday)
		_, err := agg.Run(context.Background(), Request{WeekOffset: 1})
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})
}

func TestRunRejectsInvertedRange(t *testing.T) {
	src := &fakeSource{}
	agg := newAggregator(src, openDB(t), wednesday)

	_, err := agg.Run(context.Background(), Request{Start: weekEnd, End: weekStart})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Zero(t, src.calls)
}

func TestResolveMultiWeekRange(t *testing.T) {
	agg := newAggregator(&fakeSource{}, nil, wednesday)

	start, end, week, err := agg.Resolve(Request{Start: weekStart, End: weekEnd.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Nil(t, week)
	assert.Equal(t, weekStart, start)
	assert.Equal(t, weekEnd.AddDate(0, 0, 7), end)
}

func TestRunDetectsDuplicatesAcrossOverlappingRanges(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	src := &fakeSource{visits: []models.RawVisit{falconVisit()}}
	agg := newAggregator(src, db, wednesday)

	_, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)

	// Wednesday to Wednesday range overlapping the stored week
	summary, err := agg.Run(ctx, Request{
		Start: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RecordsInserted)
	assert.Equal(t, 1, summary.DuplicatesIgnored)
}

func TestRunLabelsRecordsWithProcessedWeek(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// entered on the Sunday before week 2, left on its Monday
	overnight := falconVisit()
	overnight.EntityName = "NIGHT1"
	overnight.EntryTime = ts(2024, 1, 7, 23, 0)
	overnight.ExitTime = ts(2024, 1, 8, 1, 0)

	src := &fakeSource{visits: []models.RawVisit{overnight, falconVisit()}}
	agg := newAggregator(src, db, wednesday)

	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RecordsInserted)

	count, err := db.CountWeek(ctx, 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = db.CountWeek(ctx, 2024, 1)
	require.NoError(t, err)
	assert.Zero(t, count, "no record may be stored under the previous week")

	// the previous week sees the overnight visit again and drops it
	src.visits = []models.RawVisit{overnight}
	summary, err = agg.Run(ctx, Request{WeekOffset: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RecordsInserted)
	assert.Equal(t, 1, summary.DuplicatesIgnored)
}

func TestRunSourceTimeoutLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	agg := New(blockingSource{}, db, clock.NewFake(wednesday), zap.NewNop(), Options{
		RequireExitTime: true,
		SourceTimeout:   50 * time.Millisecond,
		Location:        time.UTC,
	})

	began := time.Now()
	summary, err := agg.Run(ctx, Request{WeekOffset: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(began), 5*time.Second)

	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusError, summary.Status)

	weeks, err := db.ListWeeks(ctx)
	require.NoError(t, err)
	assert.Empty(t, weeks)
}

func TestConcurrentRunsStoreVisitOnce(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	src := &fakeSource{visits: []models.RawVisit{falconVisit()}}
	agg := newAggregator(src, db, wednesday)

	var wg sync.WaitGroup
	summaries := make([]models.RunSummary, 2)
	errs := make([]error, 2)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = agg.Run(ctx, Request{WeekOffset: 1})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, summaries[0].RecordsInserted+summaries[1].RecordsInserted)
	assert.Equal(t, 1, summaries[0].DuplicatesIgnored+summaries[1].DuplicatesIgnored)

	count, err := db.CountWeek(ctx, 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
