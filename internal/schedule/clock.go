// Package schedule computes when the next chase may go out.
package schedule

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
)

// RandSource is the randomness used for send-time jitter. *rand.Rand from
// math/rand/v2 satisfies it.
type RandSource interface {
	IntN(n int) int
}

// BusinessHours is a same-day window expressed as minutes after midnight.
type BusinessHours struct {
	Start int
	End   int
}

// ParseBusinessHours parses "HH:MM" bounds and requires start < end.
func ParseBusinessHours(start, end string) (BusinessHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return BusinessHours{}, appErrors.NewConfigError("business_hours_start", "%v", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return BusinessHours{}, appErrors.NewConfigError("business_hours_end", "%v", err)
	}
	if s >= e {
		return BusinessHours{}, appErrors.NewConfigError("business_hours", "start %s must be before end %s", start, end)
	}
	return BusinessHours{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// NextChaseAt adds cadenceDays calendar days to from, moves past Saturday and
// Sunday when skipWeekends is set, then picks a minute in the first half of
// the business-hours window so sends do not all land on the hour. The result
// is in from's location.
func NextChaseAt(from time.Time, cadenceDays int, skipWeekends bool, hoursStart, hoursEnd string, rnd RandSource) (time.Time, error) {
	if cadenceDays <= 0 {
		return time.Time{}, appErrors.NewConfigError("cadence_days", "must be positive, got %d", cadenceDays)
	}
	hours, err := ParseBusinessHours(hoursStart, hoursEnd)
	if err != nil {
		return time.Time{}, err
	}
	return hours.Next(from, cadenceDays, skipWeekends, rnd), nil
}

// Next is NextChaseAt for an already validated window.
func (h BusinessHours) Next(from time.Time, cadenceDays int, skipWeekends bool, rnd RandSource) time.Time {
	day := from.AddDate(0, 0, cadenceDays)
	if skipWeekends {
		for isWeekend(day.Weekday()) {
			day = day.AddDate(0, 0, 1)
		}
	}

	half := (h.End - h.Start) / 2
	offset := 0
	if half > 0 && rnd != nil {
		offset = rnd.IntN(half)
	}
	minute := h.Start + offset
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, from.Location())
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// LockedRand makes a RandSource safe for concurrent use.
type LockedRand struct {
	mu  sync.Mutex
	src RandSource
}

func NewLockedRand(src RandSource) *LockedRand {
	return &LockedRand{src: src}
}

// NewSeededRand returns a concurrency-safe PCG source.
func NewSeededRand(seed uint64) *LockedRand {
	return NewLockedRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func (r *LockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}
