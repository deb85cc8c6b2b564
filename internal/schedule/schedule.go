// Package schedule defines thread trigger schedules and the pure
// next-fire calculation that drives the scheduler heap.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSchedule is returned when a schedule fails validation.
// Arming rejects the thread; it never reaches the scheduler heap.
var ErrInvalidSchedule = errors.New("schedule: invalid schedule")

// Type discriminates the schedule variant.
type Type string

// Schedule variants.
const (
	TypeDaily    Type = "daily"
	TypeInterval Type = "interval"
)

// Unit is the interval step unit.
type Unit string

// Interval units.
const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
)

// Schedule is a tagged variant: either a set of daily local wall-clock
// times, or a fixed interval anchored at a local time.
type Schedule struct {
	Type Type `json:"type" yaml:"type"`

	// Daily: local HH:MM times, each unique, at least one.
	Times []string `json:"times,omitempty" yaml:"times,omitempty"`

	// Interval: fire every Every Units, starting from Anchor (local HH:MM,
	// defaults to midnight).
	Every  int    `json:"every,omitempty" yaml:"every,omitempty"`
	Unit   Unit   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// Validate checks structural validity. All problems are joined so a
// caller sees every defect at once.
func (s Schedule) Validate() error {
	var errs []error

	switch s.Type {
	case TypeDaily:
		if len(s.Times) == 0 {
			errs = append(errs, fmt.Errorf("%w: daily schedule needs at least one time", ErrInvalidSchedule))
		}
		seen := make(map[string]struct{}, len(s.Times))
		for _, ts := range s.Times {
			if _, _, err := parseClock(ts); err != nil {
				errs = append(errs, fmt.Errorf("%w: time %q: %v", ErrInvalidSchedule, ts, err))
				continue
			}
			if _, dup := seen[ts]; dup {
				errs = append(errs, fmt.Errorf("%w: duplicate time %q", ErrInvalidSchedule, ts))
			}
			seen[ts] = struct{}{}
		}
	case TypeInterval:
		if s.Every < 1 {
			errs = append(errs, fmt.Errorf("%w: interval every must be >= 1, got %d", ErrInvalidSchedule, s.Every))
		}
		switch s.Unit {
		case UnitMinutes, UnitHours, UnitDays:
		default:
			errs = append(errs, fmt.Errorf("%w: unknown unit %q", ErrInvalidSchedule, s.Unit))
		}
		if s.Anchor != "" {
			if _, _, err := parseClock(s.Anchor); err != nil {
				errs = append(errs, fmt.Errorf("%w: anchor %q: %v", ErrInvalidSchedule, s.Anchor, err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown type %q", ErrInvalidSchedule, s.Type))
	}

	return errors.Join(errs...)
}

// step returns the interval step as an absolute duration. Only valid for
// minute and hour units; day intervals advance in civil time instead.
func (s Schedule) step() time.Duration {
	switch s.Unit {
	case UnitMinutes:
		return time.Duration(s.Every) * time.Minute
	case UnitHours:
		return time.Duration(s.Every) * time.Hour
	}
	return 0
}

// parseClock parses "HH:MM" into hour and minute components.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("invalid hour: %q", parts[0])
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid minute: %q", parts[1])
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range: %02d:%02d", hour, minute)
	}
	return hour, minute, nil
}
