// Package scheduler drives the aggregator: single runs, backfills over past
// weeks and the weekly background schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/aggregator"
	"github.com/jgoulah/trackusage/pkg/models"
)

// retryDelay is how long the schedule waits before retrying a failed run
const retryDelay = 15 * time.Minute

// WeekStore answers whether a week is already stored
type WeekStore interface {
	CountWeek(ctx context.Context, year, week int) (int, error)
}

// Publisher announces finished runs
type Publisher interface {
	PublishSummary(summary models.RunSummary) error
}

// Schedule is the weekly firing time
type Schedule struct {
	Weekday       time.Weekday
	Hour          int
	Minute        int
	CheckInterval time.Duration
	RunTimeout    time.Duration
}

// Runner owns the aggregator for the lifetime of the process
type Runner struct {
	agg      *aggregator.Aggregator
	store    WeekStore
	pub      Publisher
	schedule Schedule
	log      *zap.Logger

	mu       sync.Mutex
	lastDone string    // week label of the last scheduled run that finished
	retryAt  time.Time // no scheduled attempt before this time
}

// New creates a Runner. pub may be nil.
func New(agg *aggregator.Aggregator, store WeekStore, pub Publisher, schedule Schedule, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if schedule.CheckInterval <= 0 {
		schedule.CheckInterval = time.Minute
	}
	if schedule.RunTimeout <= 0 {
		schedule.RunTimeout = 30 * time.Minute
	}
	return &Runner{
		agg:      agg,
		store:    store,
		pub:      pub,
		schedule: schedule,
		log:      log,
	}
}

// RunOnce executes a single aggregation run bounded by the run timeout and
// publishes its summary.
func (r *Runner) RunOnce(ctx context.Context, req aggregator.Request) (models.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.schedule.RunTimeout)
	defer cancel()

	summary, err := r.agg.Run(ctx, req)
	r.publish(summary)
	return summary, err
}

// RunBackfill processes the last n completed weeks from newest to oldest.
// Weeks that already have stored records are skipped and failures do not
// stop the remaining weeks.
func (r *Runner) RunBackfill(ctx context.Context, n int) []models.WeekOutcome {
	outcomes := make([]models.WeekOutcome, 0, n)
	now := r.agg.Now()

	for offset := 1; offset <= n; offset++ {
		if ctx.Err() != nil {
			break
		}

		week := aggregator.WeekContaining(now, offset)
		outcome := models.WeekOutcome{Week: week}
		log := r.log.With(zap.Int("year", week.Year), zap.Int("week", week.Number))

		count, err := r.store.CountWeek(ctx, week.Year, week.Number)
		if err != nil {
			outcome.Err = fmt.Errorf("checking week %s: %w", Label(week), err)
			outcome.Summary.Status = models.StatusError
			outcome.Summary.Error = outcome.Err.Error()
			log.Error("Backfill pre-check failed", zap.Error(err))
			outcomes = append(outcomes, outcome)
			continue
		}
		if count > 0 {
			outcome.Summary = models.RunSummary{
				Status:     models.StatusSkipped,
				Start:      week.Start,
				End:        week.End,
				Year:       week.Year,
				WeekNumber: week.Number,
				Message:    fmt.Sprintf("%d records already stored", count),
			}
			log.Debug("Week already stored, skipping", zap.Int("records", count))
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Summary, outcome.Err = r.RunOnce(ctx, aggregator.Request{Start: week.Start, End: week.End})
		if outcome.Err != nil {
			log.Error("Backfill week failed", zap.Error(outcome.Err))
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// ScheduleWeekly blocks until ctx is done, running the last completed week
// once the weekly firing time has passed. A week missed while the process was
// down is picked up on the first check after start.
func (r *Runner) ScheduleWeekly(ctx context.Context) error {
	r.log.Info("Weekly schedule started",
		zap.Stringer("weekday", r.schedule.Weekday),
		zap.String("time", fmt.Sprintf("%02d:%02d", r.schedule.Hour, r.schedule.Minute)),
		zap.Duration("check_interval", r.schedule.CheckInterval))

	ticker := time.NewTicker(r.schedule.CheckInterval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			r.log.Info("Weekly schedule stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one schedule check and runs the last completed week if due.
// It reports whether a run was attempted.
func (r *Runner) Tick(ctx context.Context) bool {
	now := r.agg.Now()
	week, due := r.due(now)
	if !due {
		return false
	}

	count, err := r.store.CountWeek(ctx, week.Year, week.Number)
	if err != nil {
		r.log.Error("Schedule pre-check failed", zap.Error(err))
		r.deferRetry(now)
		return false
	}
	if count > 0 {
		r.markDone(week)
		return false
	}

	r.log.Info("Scheduled run due", zap.String("week", Label(week)))
	_, err = r.RunOnce(ctx, aggregator.Request{Start: week.Start, End: week.End})
	if err != nil {
		r.log.Error("Scheduled run failed, will retry", zap.Error(err), zap.Duration("retry_in", retryDelay))
		r.deferRetry(now)
		return true
	}
	r.markDone(week)
	return true
}

// due reports whether the firing time of the current week has passed and the
// last completed week has not been handled yet.
func (r *Runner) due(now time.Time) (models.Week, bool) {
	week := aggregator.LastCompletedWeek(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastDone == Label(week) || now.Before(r.retryAt) {
		return week, false
	}
	return week, !now.Before(r.FiringTime(now))
}

// FiringTime is the scheduled moment within the week containing now
func (r *Runner) FiringTime(now time.Time) time.Time {
	monday := aggregator.WeekOf(now).Start
	daysIn := (int(r.schedule.Weekday) + 6) % 7
	return time.Date(monday.Year(), monday.Month(), monday.Day()+daysIn,
		r.schedule.Hour, r.schedule.Minute, 0, 0, monday.Location())
}

func (r *Runner) markDone(week models.Week) {
	r.mu.Lock()
	r.lastDone = Label(week)
	r.retryAt = time.Time{}
	r.mu.Unlock()
}

func (r *Runner) deferRetry(now time.Time) {
	r.mu.Lock()
	r.retryAt = now.Add(retryDelay)
	r.mu.Unlock()
}

func (r *Runner) publish(summary models.RunSummary) {
	if r.pub == nil || summary.RunID == "" {
		return
	}
	if err := r.pub.PublishSummary(summary); err != nil {
		r.log.Warn("Publishing run summary failed", zap.Error(err))
	}
}

// Label formats a week as 2024-W02
func Label(w models.Week) string {
	return fmt.Sprintf("%d-W%02d", w.Year, w.Number)
}
