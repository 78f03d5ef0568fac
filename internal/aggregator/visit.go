package aggregator

import (
	"strings"

	"github.com/jgoulah/trackusage/internal/classification"
	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

// Skip reasons reported by IsValidVisit
const (
	SkipNoEntity   = "missing entity name"
	SkipNoExitTime = "visit has no exit time"
	SkipNoTimes    = "visit has neither entry nor exit time"
)

// IsValidVisit is the single rule deciding whether a raw record counts as a
// visit. It returns an empty reason for valid visits.
func IsValidVisit(v models.RawVisit, requireExit bool) string {
	if strings.TrimSpace(v.EntityName) == "" {
		return SkipNoEntity
	}
	if v.EntryTime == nil && v.ExitTime == nil {
		return SkipNoTimes
	}
	if requireExit && v.ExitTime == nil {
		return SkipNoExitTime
	}
	return ""
}

// RecordResult is the per-record outcome of classification and normalization
type RecordResult struct {
	Usage      models.WeeklyUsage
	SkipReason string
	Malformed  bool // duration could not be parsed and was stored as zero
	Unresolved bool // classification code empty or not registered
}

// OK reports whether the record should continue to deduplication
func (r RecordResult) OK() bool {
	return r.SkipReason == ""
}

// normalizeVisit turns a raw visit into a pending weekly record. A run over a
// single week passes that week as target and every record carries it; for
// longer ranges target is nil and a record is labelled with the week of its
// entry (or exit) time.
func normalizeVisit(v models.RawVisit, idx *classification.Index, requireExit bool, target *models.Week, fallback models.Week) RecordResult {
	if reason := IsValidVisit(v, requireExit); reason != "" {
		return RecordResult{SkipReason: reason}
	}

	minutes, ok := normalize.ParseMinutes(v.DurationText)
	class := idx.Lookup(v.ClassificationCode)

	week := fallback
	switch {
	case target != nil:
		week = *target
	case v.EntryTime != nil:
		week = WeekOf(*v.EntryTime)
	case v.ExitTime != nil:
		week = WeekOf(*v.ExitTime)
	}

	return RecordResult{
		Usage: models.WeeklyUsage{
			WeekNumber:         week.Number,
			Year:               week.Year,
			StartDate:          week.Start,
			EndDate:            week.End,
			EntityName:         strings.TrimSpace(v.EntityName),
			ClassificationCode: class.Code,
			Title:              class.Title(),
			Category:           class.Category(),
			DurationMinutes:    minutes,
			EntryTime:          v.EntryTime,
			ExitTime:           v.ExitTime,
		},
		Malformed:  !ok,
		Unresolved: class.Status != classification.Resolved,
	}
}
