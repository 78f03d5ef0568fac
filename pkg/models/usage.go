package models

import "time"

// Top-level classification categories used by the reference data.
const (
	CategoryPrograms      = "PROGRAMS"
	CategoryOtherSkills   = "OTHER SKILL TEAMS"
	CategoryInternalUsers = "INTERNAL USERS"
	CategoryExternalSales = "EXTERNAL SALES"
	CategoryUnclassified  = "UNCLASSIFIED" // visit carried no code
	CategoryUnregistered  = "UNREGISTERED" // code not present in the reference data
)

// Categories lists the reference categories in report order
var Categories = []string{
	CategoryPrograms,
	CategoryOtherSkills,
	CategoryInternalUsers,
	CategoryExternalSales,
}

// RawVisit is one vehicle visit as returned by the access-control report.
// ClassificationCode keeps whatever type the source driver produced
// (int64, float64, string, []byte or nil).
type RawVisit struct {
	EntityName         string
	ClassificationCode any
	DurationText       string
	EntryTime          *time.Time
	ExitTime           *time.Time
}

// Classification is an EJA reference entry
type Classification struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// Week is a Monday-to-Sunday calendar week labelled with its ISO number
type Week struct {
	Year   int       `json:"year"`
	Number int       `json:"week_number"`
	Start  time.Time `json:"start"` // Monday 00:00:00
	End    time.Time `json:"end"`   // Sunday 23:59:59
}

// WeeklyUsage is one persisted visit inside its weekly rollup
type WeeklyUsage struct {
	ID                 int        `json:"id"`
	WeekNumber         int        `json:"week_number"`
	Year               int        `json:"year"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            time.Time  `json:"end_date"`
	EntityName         string     `json:"entity_name"`
	ClassificationCode string     `json:"classification_code"`
	Title              string     `json:"title"`
	Category           string     `json:"category"`
	DurationMinutes    float64    `json:"duration_minutes"`
	EntryTime          *time.Time `json:"entry_time"`
	ExitTime           *time.Time `json:"exit_time"`
	DedupKey           string     `json:"dedup_key"`
}

// WeekStats summarizes a stored week
type WeekStats struct {
	Year         int
	WeekNumber   int
	StartDate    string
	EndDate      string
	EntityCount  int
	RecordCount  int
	TotalMinutes float64
}

// CategoryTotal is the stored duration per week and category
type CategoryTotal struct {
	Year         int
	WeekNumber   int
	Category     string
	TotalMinutes float64
	RecordCount  int
}
