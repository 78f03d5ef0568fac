package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jgoulah/trackusage/internal/classification"
	"github.com/jgoulah/trackusage/pkg/models"
)

func ts(y int, m time.Month, d, h, min int) *time.Time {
	t := time.Date(y, m, d, h, min, 0, 0, time.UTC)
	return &t
}

func TestIsValidVisit(t *testing.T) {
	entry := ts(2024, 1, 8, 9, 0)
	exit := ts(2024, 1, 8, 11, 15)

	tests := []struct {
		name        string
		visit       models.RawVisit
		requireExit bool
		want        string
	}{
		{"complete", models.RawVisit{EntityName: "ABC123", EntryTime: entry, ExitTime: exit}, true, ""},
		{"blank entity", models.RawVisit{EntityName: "  ", EntryTime: entry, ExitTime: exit}, true, SkipNoEntity},
		{"no times", models.RawVisit{EntityName: "ABC123"}, false, SkipNoTimes},
		{"open visit rejected", models.RawVisit{EntityName: "ABC123", EntryTime: entry}, true, SkipNoExitTime},
		{"open visit allowed", models.RawVisit{EntityName: "ABC123", EntryTime: entry}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidVisit(tt.visit, tt.requireExit))
		})
	}
}

func TestNormalizeVisit(t *testing.T) {
	idx := classification.Build([]models.Classification{
		{Code: "35", Title: "Program Falcon", Category: models.CategoryPrograms},
	})
	fallback := WeekOf(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))

	t.Run("resolved", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{
			EntityName:         " ABC123 ",
			ClassificationCode: 35.0,
			DurationText:       "2:15",
			EntryTime:          ts(2024, 1, 10, 9, 0),
			ExitTime:           ts(2024, 1, 10, 11, 15),
		}, idx, true, nil, fallback)

		assert.True(t, res.OK())
		assert.False(t, res.Malformed)
		assert.False(t, res.Unresolved)
		assert.Equal(t, "ABC123", res.Usage.EntityName)
		assert.Equal(t, "35", res.Usage.ClassificationCode)
		assert.Equal(t, "Program Falcon", res.Usage.Title)
		assert.Equal(t, models.CategoryPrograms, res.Usage.Category)
		assert.Equal(t, 135.0, res.Usage.DurationMinutes)
		assert.Equal(t, 2, res.Usage.WeekNumber)
		assert.Equal(t, 2024, res.Usage.Year)
	})

	t.Run("unknown code", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{
			EntityName:         "XYZ",
			ClassificationCode: "99",
			DurationText:       "0:30",
			EntryTime:          ts(2024, 1, 9, 9, 0),
			ExitTime:           ts(2024, 1, 9, 9, 30),
		}, idx, true, nil, fallback)

		assert.True(t, res.Unresolved)
		assert.Equal(t, models.CategoryUnregistered, res.Usage.Category)
		assert.Equal(t, "EJA 99", res.Usage.Title)
	})

	t.Run("empty code", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{
			EntityName: "XYZ",
			EntryTime:  ts(2024, 1, 9, 9, 0),
			ExitTime:   ts(2024, 1, 9, 9, 30),
		}, idx, true, nil, fallback)

		assert.True(t, res.Unresolved)
		assert.Equal(t, models.CategoryUnclassified, res.Usage.Category)
		assert.Empty(t, res.Usage.ClassificationCode)
	})

	t.Run("malformed duration", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{
			EntityName:   "XYZ",
			DurationText: "soon",
			EntryTime:    ts(2024, 1, 9, 9, 0),
			ExitTime:     ts(2024, 1, 9, 9, 30),
		}, idx, true, nil, fallback)

		assert.True(t, res.OK())
		assert.True(t, res.Malformed)
		assert.Zero(t, res.Usage.DurationMinutes)
	})

	t.Run("week from exit time when entry missing", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{
			EntityName: "XYZ",
			ExitTime:   ts(2024, 1, 15, 1, 0),
		}, idx, true, nil, fallback)

		assert.Equal(t, 3, res.Usage.WeekNumber)
	})

	t.Run("target week overrides entry week", func(t *testing.T) {
		target := WeekOf(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		res := normalizeVisit(models.RawVisit{
			EntityName: "NIGHT",
			EntryTime:  ts(2024, 1, 14, 23, 0),
			ExitTime:   ts(2024, 1, 15, 1, 0),
		}, idx, true, &target, fallback)

		assert.Equal(t, 3, res.Usage.WeekNumber)
		assert.Equal(t, target.Start, res.Usage.StartDate)
		assert.Equal(t, target.End, res.Usage.EndDate)
	})

	t.Run("invalid", func(t *testing.T) {
		res := normalizeVisit(models.RawVisit{EntityName: "XYZ", EntryTime: ts(2024, 1, 9, 9, 0)}, idx, true, nil, fallback)
		assert.False(t, res.OK())
		assert.Equal(t, SkipNoExitTime, res.SkipReason)
	})
}
