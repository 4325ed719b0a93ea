package timectrl

import (
	"errors"
	"testing"
	"time"
)

func TestDayGridHourly(t *testing.T) {
	times, err := DayGridFor("2023-06-21", "Europe/Zurich", time.Hour)
	if err != nil {
		t.Fatalf("DayGridFor: %v", err)
	}
	if len(times) != 24 {
		t.Fatalf("len = %d, want 24", len(times))
	}
	first, last := times[0], times[len(times)-1]
	if first.Hour() != 0 || first.Minute() != 0 || first.Day() != 21 {
		t.Fatalf("first = %v", first)
	}
	if last.Hour() != 23 || last.Day() != 21 {
		t.Fatalf("last = %v", last)
	}
	if _, offset := first.Zone(); offset != 2*3600 {
		t.Fatalf("expected CEST offset, got %d", offset)
	}
}

func TestDayGridMinuteStepIncludesLastSecond(t *testing.T) {
	loc := time.UTC
	day, _ := ParseDate("2024-01-01", loc)
	times, err := DayGrid(day, loc, time.Second)
	if err != nil {
		t.Fatalf("DayGrid: %v", err)
	}
	if len(times) != 86400 {
		t.Fatalf("len = %d, want 86400", len(times))
	}
	if got := times[len(times)-1]; got.Hour() != 23 || got.Minute() != 59 || got.Second() != 59 {
		t.Fatalf("last = %v", got)
	}
}

func TestDayGridDSTTransition(t *testing.T) {
	times, err := DayGridFor("2023-03-26", "Europe/Zurich", time.Hour)
	if err != nil {
		t.Fatalf("DayGridFor: %v", err)
	}
	if len(times) != 23 {
		t.Fatalf("len = %d, want 23 on spring-forward day", len(times))
	}
	for i := 1; i < len(times); i++ {
		if d := times[i].Sub(times[i-1]); d != time.Hour {
			t.Fatalf("step %d = %v", i, d)
		}
	}
}

func TestRangeValidation(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := Range(start, start.Add(time.Hour), 0); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
	times, err := Range(start, start.Add(-time.Hour), time.Minute)
	if err != nil || len(times) != 0 {
		t.Fatalf("reversed range = %v, %v", times, err)
	}
}

func TestParseDateErrors(t *testing.T) {
	if _, err := ParseDate("21/06/2023", time.UTC); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := LoadLocation("Mars/Olympus"); err == nil {
		t.Fatalf("expected timezone error")
	}
	loc, err := LoadLocation("")
	if err != nil || loc.String() != DefaultTimezone {
		t.Fatalf("default location = %v, %v", loc, err)
	}
}
