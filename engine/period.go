package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD LABEL - Canonical month-year bucket key
// =============================================================================

// PeriodLabel is the normalized "mmm-yy" label (e.g. "jan-25") used to align
// records from different sources. Two code paths produce labels - raw dates
// and zero-based month indexes - and both MUST agree.
//
// PLANNING-YEAR RULE: a month belongs to the planning year of its own
// calendar year. October-December of 2025 label as "oct-25".."dec-25",
// never as part of 2024. The rule is applied uniformly to the date path
// and the index path.
type PeriodLabel string

var monthNames = [12]string{
	"jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
}

var monthIndex = func() map[string]int {
	m := make(map[string]int, 12)
	for i, name := range monthNames {
		m[name] = i
	}
	return m
}()

// LabelFor maps a raw date to its canonical period label.
func LabelFor(t time.Time) PeriodLabel {
	return label(int(t.Month())-1, t.Year())
}

// LabelForIndex maps a zero-based month index (0-11) plus a reference year
// to the same label scheme as LabelFor. Out-of-range indexes wrap into the
// adjacent year so callers can iterate past December.
func LabelForIndex(monthIdx, refYear int) PeriodLabel {
	for monthIdx < 0 {
		monthIdx += 12
		refYear--
	}
	refYear += monthIdx / 12
	monthIdx %= 12
	return label(monthIdx, refYear)
}

func label(monthIdx, year int) PeriodLabel {
	return PeriodLabel(fmt.Sprintf("%s-%02d", monthNames[monthIdx], year%100))
}

// ParseLabel splits a label into its zero-based month index and full year.
// Two-digit years are interpreted in the 2000s; this system plans forward,
// not into the 20th century.
func ParseLabel(p PeriodLabel) (monthIdx, year int, err error) {
	parts := strings.SplitN(string(p), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed period label %q", p)
	}
	idx, ok := monthIndex[parts[0]]
	if !ok {
		return 0, 0, fmt.Errorf("unknown month in period label %q", p)
	}
	yy, convErr := strconv.Atoi(parts[1])
	if convErr != nil || yy < 0 || yy > 99 {
		return 0, 0, fmt.Errorf("bad year in period label %q", p)
	}
	return idx, 2000 + yy, nil
}

// YearOf returns the planning year of a label, or 0 for a malformed label.
func YearOf(p PeriodLabel) int {
	_, year, err := ParseLabel(p)
	if err != nil {
		return 0
	}
	return year
}

// CompareLabels orders labels chronologically: negative when a < b.
// Malformed labels sort last so they never pollute rollup windows.
func CompareLabels(a, b PeriodLabel) int {
	am, ay, aerr := ParseLabel(a)
	bm, by, berr := ParseLabel(b)
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(string(a), string(b))
	case aerr != nil:
		return 1
	case berr != nil:
		return -1
	}
	if ay != by {
		return ay - by
	}
	return am - bm
}

// SortLabels sorts labels in canonical chronological order, in place.
func SortLabels(labels []PeriodLabel) {
	sort.Slice(labels, func(i, j int) bool {
		return CompareLabels(labels[i], labels[j]) < 0
	})
}

// =============================================================================
// DATE RANGE - Optional filter window
// =============================================================================

// DateRange is an optional [From, To] filter, inclusive on both ends.
// A nil bound is open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r DateRange) InRange(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}
