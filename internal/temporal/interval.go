// Package temporal holds the closed-interval model for dated organizational
// assignments (head tenures and service assignments) and the validator that
// keeps the history of a single subject free of overlaps.
//
// Intervals are civil days with inclusive bounds on both ends. A nil upper
// bound is open-ended. Two intervals that share a single boundary day overlap.
package temporal

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidInterval is returned when the upper bound precedes the lower one.
var ErrInvalidInterval = errors.New("valid_to must not be before valid_from")

// Interval is a closed range of civil days. To == nil means "until further notice".
type Interval struct {
	From time.Time
	To   *time.Time
}

// NewInterval truncates both bounds to civil days (UTC) and checks ordering.
func NewInterval(from time.Time, to *time.Time) (Interval, error) {
	iv := Interval{From: Day(from)}
	if to != nil {
		t := Day(*to)
		if t.Before(iv.From) {
			return Interval{}, ErrInvalidInterval
		}
		iv.To = &t
	}
	return iv, nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Overlaps reports whether a and b share at least one day.
func Overlaps(a, b Interval) bool {
	return !a.From.After(b.end()) && !b.From.After(a.end())
}

// Overlaps is the method form of Overlaps.
func (i Interval) Overlaps(o Interval) bool { return Overlaps(i, o) }

// Contains reports whether day lies within the interval.
func (i Interval) Contains(day time.Time) bool {
	day = Day(day)
	return !day.Before(i.From) && !day.After(i.end())
}

// OpenEnded reports whether the interval has no upper bound.
func (i Interval) OpenEnded() bool { return i.To == nil }

func (i Interval) end() time.Time {
	if i.To == nil {
		return maxDay
	}
	return *i.To
}

var maxDay = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Record is a stored interval with its identity.
type Record struct {
	ID       uint
	Interval Interval
}

// FirstOverlap returns the first record in existing that overlaps candidate,
// skipping the record whose ID equals exclude (0 excludes nothing).
func FirstOverlap(candidate Interval, existing []Record, exclude uint) (Record, bool) {
	for _, r := range existing {
		if exclude != 0 && r.ID == exclude {
			continue
		}
		if Overlaps(candidate, r.Interval) {
			return r, true
		}
	}
	return Record{}, false
}

// Conflict is an overlapping pair found by Sweep.
type Conflict struct {
	A, B uint
}

// Sweep scans the history of one subject and reports every record that
// overlaps an earlier-starting one. Input order does not matter.
func Sweep(records []Record) []Conflict {
	if len(records) < 2 {
		return nil
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Interval.From.Equal(sorted[j].Interval.From) {
			return sorted[i].Interval.From.Before(sorted[j].Interval.From)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var out []Conflict
	reach := sorted[0]
	for _, r := range sorted[1:] {
		if Overlaps(reach.Interval, r.Interval) {
			out = append(out, Conflict{A: reach.ID, B: r.ID})
		}
		if r.Interval.end().After(reach.Interval.end()) {
			reach = r
		}
	}
	return out
}
