// Package dedup builds the identity of a physical visit and filters
// batches against keys that are already stored.
package dedup

import (
	"strings"
	"time"

	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

const keySeparator = "|"

// Key returns the composite identity (entity, entry, exit) of a visit.
// Missing timestamps contribute an empty token so they still compare equal.
func Key(entityName string, entry, exit *time.Time) string {
	return strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(entityName)),
		normalize.FormatTimestamp(entry),
		normalize.FormatTimestamp(exit),
	}, keySeparator)
}

// KeyOf returns the key of a stored or pending record
func KeyOf(u models.WeeklyUsage) string {
	return Key(u.EntityName, u.EntryTime, u.ExitTime)
}

// Filter drops records whose key is in existing or already appeared earlier
// in the batch. It sets DedupKey on the records it keeps and returns them in
// input order together with the number dropped.
func Filter(records []models.WeeklyUsage, existing map[string]struct{}) ([]models.WeeklyUsage, int) {
	seen := make(map[string]struct{}, len(records))
	kept := make([]models.WeeklyUsage, 0, len(records))
	duplicates := 0

	for _, r := range records {
		key := KeyOf(r)
		if _, ok := existing[key]; ok {
			duplicates++
			continue
		}
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		r.DedupKey = key
		kept = append(kept, r)
	}

	return kept, duplicates
}
