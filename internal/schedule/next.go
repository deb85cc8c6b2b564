package schedule

import (
	"fmt"
	"time"
)

// NextFire returns the earliest instant strictly after `after` at which
// the schedule fires, evaluated in loc. Daily times and interval anchors
// are interpreted as civil wall-clock times in loc and converted to an
// absolute instant last, so the result stays correct across DST
// transitions. Pure: no side effects, deterministic for a fixed input.
func NextFire(s Schedule, loc *time.Location, after time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	switch s.Type {
	case TypeDaily:
		return nextDaily(s, loc, after), nil
	case TypeInterval:
		return nextInterval(s, loc, after), nil
	}
	// Unreachable: Validate rejects unknown types.
	return time.Time{}, fmt.Errorf("%w: type %q", ErrInvalidSchedule, s.Type)
}

// nextDaily picks the smallest listed time strictly after `after` on its
// local day, wrapping to the earliest listed time on the next day when
// none remain.
func nextDaily(s Schedule, loc *time.Location, after time.Time) time.Time {
	local := after.In(loc)

	var best time.Time
	for dayOffset := 0; dayOffset <= 1; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		for _, ts := range s.Times {
			h, m, _ := parseClock(ts)
			candidate := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
			if !candidate.After(after) {
				continue
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
		if !best.IsZero() {
			return best
		}
	}
	return best
}

// nextInterval computes anchor + k*every for the smallest k yielding an
// instant strictly after `after`. Minute and hour intervals step in
// absolute time; day intervals step in civil time so "every day at the
// anchor" survives DST shifts.
func nextInterval(s Schedule, loc *time.Location, after time.Time) time.Time {
	anchor := s.Anchor
	if anchor == "" {
		anchor = "00:00"
	}
	h, m, _ := parseClock(anchor)

	local := after.In(loc)
	base := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)

	if s.Unit == UnitDays {
		// Rewind to or before `after`, then step forward one day-interval
		// at a time in civil time.
		for base.After(after) {
			base = base.AddDate(0, 0, -s.Every)
		}
		for !base.After(after) {
			base = base.AddDate(0, 0, s.Every)
		}
		return base
	}

	// The anchor fixes the phase of the grid, not its start: rewind far
	// enough that the grid covers instants before today's anchor too.
	step := s.step()
	if base.After(after) {
		rewind := (base.Sub(after)/step + 1) * step
		base = base.Add(-rewind)
	}
	elapsed := after.Sub(base)
	k := elapsed/step + 1
	return base.Add(k * step)
}
