// Package report summarizes stored weekly usage for the report command.
package report

import (
	"sort"
	"strings"

	"github.com/jgoulah/trackusage/pkg/models"
)

// DefaultTop is the number of titles listed per category
const DefaultTop = 7

// TitleTotal is the usage of one title within a category
type TitleTotal struct {
	Title    string
	Code     string
	Minutes  float64
	Visits   int
	Entities int
}

// CategoryShare is the usage of one category across the selected records
type CategoryShare struct {
	Category string
	Minutes  float64
	Records  int
	Share    float64 // fraction of all minutes, 0..1
}

// TopTitles returns the n titles of category with the most minutes, largest
// first. Ties are ordered by title. n <= 0 returns every title.
func TopTitles(records []models.WeeklyUsage, category string, n int) []TitleTotal {
	totals := make(map[string]*TitleTotal)
	entities := make(map[string]map[string]struct{})

	for _, r := range records {
		if r.Category != category {
			continue
		}
		title := r.Title
		if title == "" {
			title = category
		}

		t, ok := totals[title]
		if !ok {
			t = &TitleTotal{Title: title, Code: r.ClassificationCode}
			totals[title] = t
			entities[title] = make(map[string]struct{})
		}
		t.Minutes += r.DurationMinutes
		t.Visits++
		entities[title][strings.ToUpper(r.EntityName)] = struct{}{}
	}

	result := make([]TitleTotal, 0, len(totals))
	for title, t := range totals {
		t.Entities = len(entities[title])
		result = append(result, *t)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Minutes != result[j].Minutes {
			return result[i].Minutes > result[j].Minutes
		}
		return result[i].Title < result[j].Title
	})

	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

// CategoryBreakdown totals records per category. Known categories come first
// in their fixed order, then any others alphabetically.
func CategoryBreakdown(records []models.WeeklyUsage) []CategoryShare {
	byCategory := make(map[string]*CategoryShare)
	var total float64

	for _, r := range records {
		c, ok := byCategory[r.Category]
		if !ok {
			c = &CategoryShare{Category: r.Category}
			byCategory[r.Category] = c
		}
		c.Minutes += r.DurationMinutes
		c.Records++
		total += r.DurationMinutes
	}

	result := make([]CategoryShare, 0, len(byCategory))
	for _, name := range models.Categories {
		if c, ok := byCategory[name]; ok {
			result = append(result, *c)
			delete(byCategory, name)
		}
	}

	rest := make([]string, 0, len(byCategory))
	for name := range byCategory {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		result = append(result, *byCategory[name])
	}

	if total > 0 {
		for i := range result {
			result[i].Share = result[i].Minutes / total
		}
	}
	return result
}
