package aggregator

import (
	"time"

	"github.com/jgoulah/trackusage/pkg/models"
)

// WeekOf returns the Monday-to-Sunday week containing t, in t's location.
// Weeks are labelled with the ISO week number and ISO year so the week that
// straddles new year gets a single label.
func WeekOf(t time.Time) models.Week {
	y, m, d := t.Date()
	sinceMonday := (int(t.Weekday()) + 6) % 7

	start := time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, t.Location())
	end := time.Date(y, m, d-sinceMonday+6, 23, 59, 59, 0, t.Location())
	year, number := start.ISOWeek()

	return models.Week{Year: year, Number: number, Start: start, End: end}
}

// WeekContaining returns the week containing now shifted back by offset weeks.
// Offset 0 is the current week, 1 the last completed one.
func WeekContaining(now time.Time, offset int) models.Week {
	return WeekOf(now.AddDate(0, 0, -7*offset))
}

// LastCompletedWeek is the week before the one containing now
func LastCompletedWeek(now time.Time) models.Week {
	return WeekContaining(now, 1)
}
