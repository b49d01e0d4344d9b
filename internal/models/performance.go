package models

import "time"

// Performance is a snapshot of a computed daily rise or fall extreme.
// A zero CalculatedAt marks a snapshot that has never been computed.
// CalculatedAt is monotonically non-decreasing across recalculations; a
// snapshot counts as current only when CalculatedAt falls on today's date.
type Performance struct {
	Price        float64   `json:"price"`
	Percent      float64   `json:"percent"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// FreshOn reports whether the snapshot was calculated on the given day.
func (p Performance) FreshOn(day time.Time) bool {
	return SameDay(p.CalculatedAt, day)
}

// SameDay reports whether a and b fall on the same calendar date, each in
// its own location. Callers are expected to have normalized both times to
// the configured locale already.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// BeforeDay reports whether t falls on a calendar date strictly before day.
func BeforeDay(t, day time.Time) bool {
	ty, tm, td := t.Date()
	dy, dm, dd := day.Date()
	if ty != dy {
		return ty < dy
	}
	if tm != dm {
		return tm < dm
	}
	return td < dd
}
