// Package cooldown decides whether an author may post again.
package cooldown

import "math"

const (
	// Days is the minimum number of days between two posts by one author.
	Days = 15

	dayMillis = int64(86_400_000)
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible      bool `json:"canPost"`
	DaysRemaining int  `json:"daysRemaining"`

	// epoch ms at which posting reopens; zero when eligible
	availableAt int64
}

// AvailableAt returns the epoch ms at which the author may post again,
// or 0 when the author is already eligible.
func (d Decision) AvailableAt() int64 {
	return d.availableAt
}

// Evaluate computes eligibility from the author's last post time and
// the current time, both in epoch milliseconds. A nil lastPostAt means
// the author has never posted.
//
// The remaining days are rounded up so an ineligible author is never
// told 0 days remain. A lastPostAt ahead of now counts as a post made
// just now.
func Evaluate(lastPostAt *int64, now int64) Decision {
	if lastPostAt == nil {
		return Decision{Eligible: true}
	}

	elapsed := max(now-*lastPostAt, 0)
	elapsedDays := float64(elapsed) / float64(dayMillis)
	if elapsedDays >= Days {
		return Decision{Eligible: true}
	}

	return Decision{
		Eligible:      false,
		DaysRemaining: int(math.Ceil(Days - elapsedDays)),
		availableAt:   now + Days*dayMillis - elapsed,
	}
}
