package models

import "time"

// Run statuses reported in a RunSummary
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// RunSummary is the result of one aggregation run
type RunSummary struct {
	RunID             string    `json:"run_id"`
	Status            string    `json:"status"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	WeekNumber        int       `json:"week_number,omitempty"`
	Year              int       `json:"year,omitempty"`
	TotalProcessed    int       `json:"total_processed"`
	RecordsInserted   int       `json:"records_inserted"`
	DuplicatesIgnored int       `json:"duplicates_ignored"`
	Skipped           int       `json:"skipped"`
	Malformed         int       `json:"malformed"`
	Unresolved        int       `json:"unresolved"`
	Message           string    `json:"message,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// WeekOutcome is one line of a backfill report
type WeekOutcome struct {
	Week    Week
	Summary RunSummary
	Err     error
}
