// File: internal/throttle/policy.go
package throttle

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// Limits are the quota windows enforced by a Throttle.
type Limits struct {
	Daily    int
	Hourly   int
	Lifetime int
	// Window is the length of the rolling ledger window, an hour by default.
	Window time.Duration
	// Interval bounds the randomized minimum spacing between two actions.
	Interval schemas.DurationRange
}

// BreakPolicy schedules rest periods by confirmed action count.
type BreakPolicy struct {
	ShortEvery    int
	ShortDuration schemas.DurationRange
	LongEvery     int
	LongDuration  schemas.DurationRange
	// ProgressInterval is how often a break in progress reports the time
	// remaining. Zero sleeps the whole break in one go.
	ProgressInterval time.Duration
}

// DefaultLimits mirrors the conservative regime the tool ships with.
func DefaultLimits() Limits {
	return Limits{
		Daily:    150,
		Hourly:   30,
		Lifetime: 7500,
		Window:   time.Hour,
		Interval: schemas.DurationRange{Min: 60 * time.Second, Max: 120 * time.Second},
	}
}

// DefaultBreakPolicy rests briefly every 10 actions and longer every 50.
func DefaultBreakPolicy() BreakPolicy {
	return BreakPolicy{
		ShortEvery:       10,
		ShortDuration:    schemas.DurationRange{Min: 2 * time.Minute, Max: 5 * time.Minute},
		LongEvery:        50,
		LongDuration:     schemas.DurationRange{Min: 15 * time.Minute, Max: 30 * time.Minute},
		ProgressInterval: 30 * time.Second,
	}
}

// Validate checks the limits for internal consistency.
func (l Limits) Validate() error {
	var errs []error
	if l.Daily <= 0 {
		errs = append(errs, fmt.Errorf("daily limit must be positive, got %d", l.Daily))
	}
	if l.Hourly <= 0 {
		errs = append(errs, fmt.Errorf("hourly limit must be positive, got %d", l.Hourly))
	}
	if l.Lifetime <= 0 {
		errs = append(errs, fmt.Errorf("lifetime limit must be positive, got %d", l.Lifetime))
	}
	if l.Window <= 0 {
		errs = append(errs, fmt.Errorf("ledger window must be positive, got %s", l.Window))
	}
	if l.Interval.Min < 0 || l.Interval.Max < l.Interval.Min {
		errs = append(errs, fmt.Errorf("invalid action interval [%s, %s]", l.Interval.Min, l.Interval.Max))
	}
	return errors.Join(errs...)
}

// Validate checks the break policy. Thresholds of zero disable that break.
func (p BreakPolicy) Validate() error {
	var errs []error
	if p.ShortEvery < 0 || p.LongEvery < 0 {
		errs = append(errs, errors.New("break thresholds must not be negative"))
	}
	if p.ShortEvery > 0 && p.LongEvery > 0 && p.LongEvery <= p.ShortEvery {
		errs = append(errs, fmt.Errorf("long break threshold (%d) must exceed short break threshold (%d)", p.LongEvery, p.ShortEvery))
	}
	if r := p.ShortDuration; r.Min < 0 || r.Max < r.Min {
		errs = append(errs, fmt.Errorf("invalid short break duration [%s, %s]", r.Min, r.Max))
	}
	if r := p.LongDuration; r.Min < 0 || r.Max < r.Min {
		errs = append(errs, fmt.Errorf("invalid long break duration [%s, %s]", r.Min, r.Max))
	}
	if p.ProgressInterval < 0 {
		errs = append(errs, errors.New("break progress interval must not be negative"))
	}
	return errors.Join(errs...)
}
