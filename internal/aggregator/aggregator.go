// Package aggregator runs the weekly pipeline: fetch raw visits for a date
// range, classify and normalize them, drop duplicates and persist the rest in
// one transaction.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/classification"
	"github.com/jgoulah/trackusage/internal/clock"
	"github.com/jgoulah/trackusage/internal/database"
	"github.com/jgoulah/trackusage/internal/dedup"
	"github.com/jgoulah/trackusage/internal/metrics"
	"github.com/jgoulah/trackusage/internal/source"
	"github.com/jgoulah/trackusage/pkg/models"
)

var (
	// ErrSourceUnavailable is returned when the visit source cannot be read
	ErrSourceUnavailable = errors.New("visit source unavailable")
	// ErrPersistence is returned when the batch could not be committed
	ErrPersistence = errors.New("persisting weekly usage failed")
	// ErrDuplicateKey means a record slipped past deduplication and hit the
	// storage uniqueness constraint
	ErrDuplicateKey = database.ErrDuplicateKey
	// ErrInvalidRange is returned for a request whose end precedes its start
	ErrInvalidRange = errors.New("invalid date range")
)

// Store is the persistence the pipeline needs
type Store interface {
	ListClassifications(ctx context.Context) ([]models.Classification, error)
	ExistingKeys(ctx context.Context, start, end time.Time) (map[string]struct{}, error)
	InsertWeeklyUsage(ctx context.Context, records []models.WeeklyUsage) (int, error)
}

// Options tune a pipeline
type Options struct {
	RequireExitTime bool
	SourceTimeout   time.Duration
	Location        *time.Location
}

// Request selects the range of a run. When Start and End are both set they
// are used as given, otherwise the range is the week WeekOffset weeks before
// the current one.
type Request struct {
	Start      time.Time
	End        time.Time
	WeekOffset int
}

// Explicit reports whether the request carries its own date range
func (r Request) Explicit() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// Aggregator executes runs. Only one run executes at a time.
type Aggregator struct {
	source source.Source
	store  Store
	clock  clock.Clock
	log    *zap.Logger
	opts   Options

	mu sync.Mutex
}

// New creates an Aggregator
func New(src source.Source, store Store, clk clock.Clock, log *zap.Logger, opts Options) *Aggregator {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 2 * time.Minute
	}
	return &Aggregator{
		source: src,
		store:  store,
		clock:  clk,
		log:    log,
		opts:   opts,
	}
}

// Now returns the current time in the configured location
func (a *Aggregator) Now() time.Time {
	return a.clock.Now().In(a.opts.Location)
}

// Location is the timezone week boundaries are computed in
func (a *Aggregator) Location() *time.Location {
	return a.opts.Location
}

// Resolve turns a request into a concrete range. The week is nil when the
// range does not fall within a single calendar week.
func (a *Aggregator) Resolve(req Request) (time.Time, time.Time, *models.Week, error) {
	if !req.Explicit() {
		w := WeekContaining(a.Now(), req.WeekOffset)
		return w.Start, w.End, &w, nil
	}

	start, end := req.Start.In(a.opts.Location), req.End.In(a.opts.Location)
	if end.Before(start) {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidRange, end.Format(time.DateTime), start.Format(time.DateTime))
	}

	ws, we := WeekOf(start), WeekOf(end)
	if ws.Year == we.Year && ws.Number == we.Number {
		return start, end, &ws, nil
	}
	return start, end, nil, nil
}

// Run executes one aggregation run. The returned summary is always filled in,
// also when an error is returned.
func (a *Aggregator) Run(ctx context.Context, req Request) (summary models.RunSummary, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	began := time.Now()
	summary.RunID = uuid.NewString()
	log := a.log.With(zap.String("run_id", summary.RunID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
			log.Error("Run aborted by panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		if err != nil {
			summary.Status = models.StatusError
			summary.Error = err.Error()
		}
		metrics.ObserveRun(summary, time.Since(began))
	}()

	start, end, week, err := a.Resolve(req)
	if err != nil {
		return summary, err
	}
	summary.Start, summary.End = start, end
	if week != nil {
		summary.Year, summary.WeekNumber = week.Year, week.Number
	}

	log = log.With(zap.Time("start", start), zap.Time("end", end))
	log.Info("Starting aggregation run")

	visits, err := a.fetch(ctx, start, end)
	if err != nil {
		log.Error("Fetching visits failed", zap.Error(err))
		return summary, err
	}
	summary.TotalProcessed = len(visits)

	if len(visits) == 0 {
		summary.Status = models.StatusEmpty
		summary.Message = "no visits in range"
		log.Info("No visits in range, nothing to store")
		return summary, nil
	}

	entries, err := a.store.ListClassifications(ctx)
	if err != nil {
		return summary, fmt.Errorf("loading classifications: %w", err)
	}
	idx := classification.Build(entries)

	fallback := WeekOf(start)
	pending := make([]models.WeeklyUsage, 0, len(visits))
	for _, v := range visits {
		res := normalizeVisit(v, idx, a.opts.RequireExitTime, week, fallback)
		if !res.OK() {
			summary.Skipped++
			log.Debug("Skipping visit", zap.String("entity", v.EntityName), zap.String("reason", res.SkipReason))
			continue
		}
		if res.Malformed {
			summary.Malformed++
			log.Warn("Unparseable duration stored as zero",
				zap.String("entity", res.Usage.EntityName),
				zap.String("duration", v.DurationText))
		}
		if res.Unresolved {
			summary.Unresolved++
		}
		pending = append(pending, res.Usage)
	}

	lo, hi := keyWindow(start, end, pending)
	existing, err := a.store.ExistingKeys(ctx, lo, hi)
	if err != nil {
		return summary, fmt.Errorf("loading existing keys: %w", err)
	}

	fresh, dropped := dedup.Filter(pending, existing)
	summary.DuplicatesIgnored = dropped

	inserted, err := a.store.InsertWeeklyUsage(ctx, fresh)
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			log.Error("Duplicate key reached storage after filtering", zap.Error(err))
		}
		return summary, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	summary.RecordsInserted = inserted
	summary.Status = models.StatusSuccess
	summary.Message = fmt.Sprintf("inserted %d records, %d duplicates ignored", inserted, dropped)

	log.Info("Aggregation run finished",
		zap.Int("processed", summary.TotalProcessed),
		zap.Int("inserted", summary.RecordsInserted),
		zap.Int("duplicates", summary.DuplicatesIgnored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("malformed", summary.Malformed),
		zap.Int("unresolved", summary.Unresolved),
		zap.Duration("elapsed", time.Since(began)))

	return summary, nil
}

func (a *Aggregator) fetch(ctx context.Context, start, end time.Time) ([]models.RawVisit, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.SourceTimeout)
	defer cancel()

	visits, err := a.source.FetchVisits(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return visits, nil
}

// keyWindow widens the requested range to every week a pending visit touches.
// A visit crossing a week boundary may already be stored under the
// neighbouring week by the run that processed it.
func keyWindow(start, end time.Time, pending []models.WeeklyUsage) (time.Time, time.Time) {
	lo, hi := start, end
	widen := func(w models.Week) {
		if w.Start.Before(lo) {
			lo = w.Start
		}
		if w.End.After(hi) {
			hi = w.End
		}
	}

	for _, r := range pending {
		widen(models.Week{Start: r.StartDate, End: r.EndDate})
		if r.EntryTime != nil {
			widen(WeekOf(r.EntryTime.In(start.Location())))
		}
		if r.ExitTime != nil {
			widen(WeekOf(r.ExitTime.In(start.Location())))
		}
	}
	return lo, hi
}
