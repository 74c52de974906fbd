// Package workday counts elapsed office working days between two instants.
//
// Instants are reduced to calendar dates in the office time zone. A working
// day counts once the following midnight has passed, so a case created on a
// Monday has zero elapsed working days for the whole of that Monday and one
// from Tuesday 00:00. Saturdays and Sundays never count. Public holidays are
// not modelled.
package workday

import (
	"time"
	_ "time/tzdata"
)

const DefaultZone = "Asia/Jakarta"

// Calculator counts weekdays in a fixed location.
type Calculator struct {
	Loc *time.Location
}

// New returns a Calculator for the named IANA zone. An empty or unknown zone
// falls back to UTC and reports the lookup error.
func New(zone string) (Calculator, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calculator{Loc: time.UTC}, err
	}
	return Calculator{Loc: loc}, nil
}

func (c Calculator) location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

func (c Calculator) date(t time.Time) time.Time {
	y, m, d := t.In(c.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Between returns the number of weekdays d with date(created) <= d < date(now).
// It returns 0 when now is not after created.
func (c Calculator) Between(created, now time.Time) int {
	start := c.date(created)
	end := c.date(now)
	if !end.After(start) {
		return 0
	}
	days := int(end.Sub(start).Hours() / 24)
	count := (days / 7) * 5
	wd := start.Weekday()
	for i := 0; i < days%7; i++ {
		if wd != time.Saturday && wd != time.Sunday {
			count++
		}
		wd = (wd + 1) % 7
	}
	return count
}

// Remaining returns how many more working days must pass before threshold is
// reached, never negative.
func (c Calculator) Remaining(created, now time.Time, threshold int) int {
	left := threshold - c.Between(created, now)
	if left < 0 {
		return 0
	}
	return left
}
