// Package timectrl builds the timestamp grids the analysis runs on.
package timectrl

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// DateLayout is the calendar-date format accepted on the command line and
// in configuration.
const DateLayout = "2006-01-02"

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "Europe/Zurich"

var ErrInvalidStep = errors.New("timectrl: step must be positive")

// LoadLocation resolves an IANA timezone name, falling back to
// DefaultTimezone when name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timectrl: load timezone %q: %w", name, err)
	}
	return loc, nil
}

// ParseDate parses a YYYY-MM-DD date as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timectrl: parse date %q: %w", s, err)
	}
	return d, nil
}

// Range returns start, start+step, ... up to and including end.
func Range(start, end time.Time, step time.Duration) ([]time.Time, error) {
	if step <= 0 {
		return nil, ErrInvalidStep
	}
	if end.Before(start) {
		return nil, nil
	}
	n := int(end.Sub(start)/step) + 1
	times := make([]time.Time, 0, n)
	for t := start; !t.After(end); t = t.Add(step) {
		times = append(times, t)
	}
	return times, nil
}

// DayGrid covers one calendar day in loc, from 00:00:00 to 23:59:59
// inclusive, stepping in absolute time so DST days keep a uniform step.
func DayGrid(date time.Time, loc *time.Location, step time.Duration) ([]time.Time, error) {
	if loc == nil {
		loc = date.Location()
	}
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Second)
	return Range(start, end, step)
}

// DayGridFor parses date and tz and returns the day's grid.
func DayGridFor(date, tz string, step time.Duration) ([]time.Time, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	day, err := ParseDate(date, loc)
	if err != nil {
		return nil, err
	}
	return DayGrid(day, loc, step)
}
