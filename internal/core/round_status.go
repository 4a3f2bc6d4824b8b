package core

import (
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// RoundClock is the input to ResolveRoundStatus.
type RoundClock struct {
	ScheduledDate     time.Time
	Deadline          *time.Time
	DerivedEndDate    *time.Time
	CompletionPercent float64
	Current           RoundStatus
	Now               time.Time
}

// RoundClockFor captures the resolver inputs of a stored round.
func RoundClockFor(r Round, now time.Time) RoundClock {
	return RoundClock{
		ScheduledDate:     r.ScheduledDate,
		Deadline:          r.Deadline,
		DerivedEndDate:    r.DerivedEndDate,
		CompletionPercent: r.CompletionPercent,
		Current:           r.Status,
		Now:               now,
	}
}

// ResolveRoundStatus derives a round's lifecycle state. First match wins:
// completed stays completed, full completion completes, manual holds and
// cancellations are kept, then the calendar decides between scheduled,
// overdue and in_progress. A round is never promoted to in_progress on its
// start date alone.
func ResolveRoundStatus(in RoundClock) RoundStatus {
	now := in.Now.UTC()
	scheduled := in.ScheduledDate.UTC()

	switch {
	case in.Current == domain.RoundCompleted:
		return domain.RoundCompleted
	case in.CompletionPercent >= 100:
		return domain.RoundCompleted
	case in.Current == domain.RoundCancelled, in.Current == domain.RoundOnHold:
		return in.Current
	case scheduled.After(now):
		return domain.RoundScheduled
	}

	deadline := in.Deadline
	if deadline == nil {
		deadline = in.DerivedEndDate
	}
	if deadline != nil && deadline.UTC().Before(now) {
		return domain.RoundOverdue
	}
	if in.Current == domain.RoundInProgress || in.CompletionPercent > 0 {
		return domain.RoundInProgress
	}
	return domain.RoundScheduled
}

// DeriveEndDate returns scheduled+durationDays when no explicit deadline is
// set. It returns nil when a deadline exists or no duration is configured.
func DeriveEndDate(scheduled time.Time, deadline *time.Time, durationDays int) *time.Time {
	if deadline != nil || durationDays <= 0 {
		return nil
	}
	end := scheduled.UTC().AddDate(0, 0, durationDays)
	return &end
}
