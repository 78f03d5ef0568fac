// Package normalize holds the conversions applied to raw access-control
// values before they are classified, deduplicated or stored.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical rendering used for storage and dedup keys
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is used for week boundaries
const DateLayout = "2006-01-02"

// decimalCode matches codes written as plain decimals ("35", "35.0", "-2.50")
var decimalCode = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ToMinutes converts an "H:MM" stay duration into minutes.
// Anything it cannot parse yields 0.
func ToMinutes(text string) float64 {
	minutes, _ := ParseMinutes(text)
	return minutes
}

// ParseMinutes is ToMinutes with a flag reporting whether the text was well formed
func ParseMinutes(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return 0, false
	}

	hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minutes < 0 {
		return 0, false
	}

	return float64(hours*60 + minutes), true
}

// FormatMinutes renders a minute count as "HH:MM"
func FormatMinutes(minutes float64) string {
	if minutes < 0 || math.IsNaN(minutes) {
		minutes = 0
	}
	total := int(minutes)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// NormalizeCode coerces a classification code into its canonical string form.
// Integers and integral floats ("35", 35, 35.0, "35.0", " 35 ") all become "35".
func NormalizeCode(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return normalizeCodeString(v)
	case []byte:
		return normalizeCodeString(string(v))
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloatCode(float64(v))
	case float64:
		return formatFloatCode(v)
	case fmt.Stringer:
		return normalizeCodeString(v.String())
	default:
		return normalizeCodeString(fmt.Sprint(v))
	}
}

func normalizeCodeString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, ".") && decimalCode.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return formatFloatCode(f)
		}
	}
	return s
}

func formatFloatCode(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatTimestamp renders a nullable timestamp with TimestampLayout.
// Nil and zero values become the empty string.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04",
	DateLayout,
}

// ParseTimestamp parses the textual timestamps the source and the store produce.
// Unparseable text returns nil.
func ParseTimestamp(text string, loc *time.Location) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return &t
		}
	}
	return nil
}
