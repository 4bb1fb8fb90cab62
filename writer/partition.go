package writer

import (
	"fmt"
	"path"
	"strings"
	"time"

	"ofiflow/models"
)

// TimePartition is a run of consecutive rows sharing one time path.
type TimePartition struct {
	Path  string
	Start time.Time
	Rows  []models.LabeledRow
}

// TimePath expands the {year}, {month}, {day} and {hour} placeholders of
// format for t in UTC.
func TimePath(format string, t time.Time) string {
	t = t.UTC()
	p := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%04d", t.Year()))
	p = strings.ReplaceAll(p, "{month}", fmt.Sprintf("%02d", t.Month()))
	p = strings.ReplaceAll(p, "{day}", fmt.Sprintf("%02d", t.Day()))
	p = strings.ReplaceAll(p, "{hour}", fmt.Sprintf("%02d", t.Hour()))
	return p
}

// Partition splits time-ordered rows into partitions by time path. Row
// order is preserved and the partitions share the caller's backing array.
func Partition(rows []models.LabeledRow, timeFormat string) []TimePartition {
	var parts []TimePartition
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && TimePath(timeFormat, rows[i].Timestamp) == TimePath(timeFormat, rows[start].Timestamp) {
			continue
		}
		parts = append(parts, TimePartition{
			Path:  TimePath(timeFormat, rows[start].Timestamp),
			Start: rows[start].Timestamp,
			Rows:  rows[start:i:i],
		})
		start = i
	}
	return parts
}

// keyValues maps the configured partition keys to their values.
func keyValues(keys []string, symbol, runID string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		switch k {
		case "symbol":
			out[k] = symbol
		case "run_id":
			out[k] = runID
		}
	}
	return out
}

// keyPrefix builds the key=value directories for the configured keys, in
// configured order.
func keyPrefix(keys []string, symbol, runID string) []string {
	values := keyValues(keys, symbol, runID)
	var parts []string
	for _, k := range keys {
		if v, ok := values[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return parts
}

// objectPath is the slash separated relative path of one exported file.
func objectPath(keys []string, symbol, runID string, part TimePartition, ext string) string {
	parts := keyPrefix(keys, symbol, runID)
	if part.Path != "" {
		parts = append(parts, part.Path)
	}
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := fmt.Sprintf("%s_ofi_%s_%s.%s", symbol, part.Start.UTC().Format("20060102150405"), id, ext)
	return path.Join(append(parts, filename)...)
}
