package export

import (
	"fmt"
	"time"

	"github.com/oakbridge/recordsync/internal/record"
)

// CalendarUnit is a calendar-aligned step width for boundary windows.
type CalendarUnit string

const (
	UnitDay   CalendarUnit = "day"
	UnitWeek  CalendarUnit = "week"
	UnitMonth CalendarUnit = "month"
	UnitYear  CalendarUnit = "year"
)

// SizePolicy controls how a session's time range is cut into boundary
// windows. The zero value is invalid; use Automatic or ByCalendar.
type SizePolicy struct {
	Automatic  bool         `json:"automatic"`
	Unit       CalendarUnit `json:"unit,omitempty"`
	Multiplier int          `json:"multiplier,omitempty"`
}

// Automatic lets the engine pick a window width per collection based on its
// expected record density.
func Automatic() SizePolicy {
	return SizePolicy{Automatic: true}
}

// ByCalendar cuts every collection's range into windows of multiplier
// calendar units, e.g. ByCalendar(UnitMonth, 1) for monthly windows.
func ByCalendar(unit CalendarUnit, multiplier int) SizePolicy {
	return SizePolicy{Unit: unit, Multiplier: multiplier}
}

func (p SizePolicy) Validate() error {
	if p.Automatic {
		return nil
	}
	switch p.Unit {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
	default:
		return fmt.Errorf("size policy: unknown calendar unit %q", p.Unit)
	}
	if p.Multiplier <= 0 {
		return fmt.Errorf("size policy: multiplier must be positive, got %d", p.Multiplier)
	}
	return nil
}

// denseCollections get one-week automatic windows instead of the default
// month. High-sample-rate series would otherwise produce batches far past
// any sensible page count.
var denseCollections = map[string]struct{}{
	"heart_rate":             {},
	"heart_rate_variability": {},
	"respiratory_rate":       {},
	"accelerometer":          {},
}

func (p SizePolicy) step(collection string, from time.Time) time.Time {
	unit, mult := p.Unit, p.Multiplier
	if p.Automatic {
		unit, mult = UnitMonth, 1
		if _, ok := denseCollections[collection]; ok {
			unit = UnitWeek
		}
	}
	switch unit {
	case UnitDay:
		return from.AddDate(0, 0, mult)
	case UnitWeek:
		return from.AddDate(0, 0, 7*mult)
	case UnitMonth:
		return from.AddDate(0, mult, 0)
	default:
		return from.AddDate(mult, 0, 0)
	}
}

// Boundary is one unit of export work: a single collection over a half-open
// time window.
type Boundary struct {
	Collection string          `json:"collection"`
	Interval   record.Interval `json:"interval"`
}

// ComputeBoundaries partitions the session range into per-collection windows
// under the given policy. Per collection the windows are disjoint, strictly
// increasing, and their union is exactly the session range; the final window
// is clamped to the range end. Boundaries are ordered by collection first
// (in the given order), then chronologically.
func ComputeBoundaries(collections []string, iv record.Interval, policy SizePolicy) ([]Boundary, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if iv.Empty() {
		return nil, fmt.Errorf("compute boundaries: empty interval [%s, %s)", iv.Start, iv.End)
	}

	var out []Boundary
	for _, collection := range collections {
		cur := iv.Start
		for cur.Before(iv.End) {
			next := policy.step(collection, cur)
			if !next.After(cur) {
				return nil, fmt.Errorf("compute boundaries: window did not advance at %s", cur)
			}
			if next.After(iv.End) {
				next = iv.End
			}
			out = append(out, Boundary{
				Collection: collection,
				Interval:   record.Interval{Start: cur, End: next},
			})
			cur = next
		}
	}
	return out, nil
}
