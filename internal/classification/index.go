// Package classification maps raw visit codes onto the EJA reference data.
package classification

import (
	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

// Status describes how a lookup was resolved
type Status int

const (
	Resolved Status = iota
	// Unclassified means the visit carried no code.
	Unclassified
	// Unregistered means the code is not in the reference data yet.
	Unregistered
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Unclassified:
		return "unclassified"
	case Unregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Result is the outcome of a lookup. Entry is only meaningful when Status is Resolved.
type Result struct {
	Code   string
	Status Status
	Entry  models.Classification
}

// Category returns the entry category, or the bucket for unresolved codes
func (r Result) Category() string {
	switch r.Status {
	case Resolved:
		if r.Entry.Category == "" {
			return models.CategoryUnregistered
		}
		return r.Entry.Category
	case Unclassified:
		return models.CategoryUnclassified
	default:
		return models.CategoryUnregistered
	}
}

// Title returns the entry title, falling back to "EJA <code>"
func (r Result) Title() string {
	if r.Status == Resolved && r.Entry.Title != "" {
		return r.Entry.Title
	}
	if r.Code == "" {
		return ""
	}
	return "EJA " + r.Code
}

// Index is an immutable code lookup built once per aggregation run
type Index struct {
	entries map[string]models.Classification
}

// Build indexes entries by normalized code. When two entries normalize to the
// same code the later one wins.
func Build(entries []models.Classification) *Index {
	idx := &Index{entries: make(map[string]models.Classification, len(entries))}
	for _, e := range entries {
		code := normalize.NormalizeCode(e.Code)
		if code == "" {
			continue
		}
		e.Code = code
		idx.entries[code] = e
	}
	return idx
}

// Len returns the number of indexed codes
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Lookup resolves a raw code of any type
func (idx *Index) Lookup(code any) Result {
	normalized := normalize.NormalizeCode(code)
	if normalized == "" {
		return Result{Status: Unclassified}
	}
	entry, ok := idx.entries[normalized]
	if !ok {
		return Result{Code: normalized, Status: Unregistered}
	}
	return Result{Code: normalized, Status: Resolved, Entry: entry}
}
