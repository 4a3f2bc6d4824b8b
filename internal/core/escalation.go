package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// SweepReport summarizes one escalation sweep.
type SweepReport struct {
	StartedAt     time.Time
	Processed     int
	Escalated     int
	Reminded      int
	RoundsUpdated int
	Errors        []error
}

// OK reports whether every unit of work succeeded.
func (r SweepReport) OK() bool { return len(r.Errors) == 0 }

// daysBetween counts whole UTC calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(utcDate(b).Sub(utcDate(a)).Hours() / 24)
}

// RunEscalationSweep escalates overdue CAPAs, emits reminders for CAPAs
// nearing their target date and re-resolves the status of open rounds. Each
// CAPA and round is re-read and saved in its own transaction, so edits made
// after the listing are kept; a failure is recorded in the report and the
// sweep moves on. Running it twice on the same UTC day does not
// escalate twice.
func RunEscalationSweep(ctx context.Context, repo Repository, clock Clock, notifier Notifier, policy Policy) SweepReport {
	if clock == nil {
		clock = systemClock()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	now := clock.Now().UTC()
	today := utcDate(now)
	report := SweepReport{StartedAt: now}

	capas, err := repo.ListCapas(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("list capas: %w", err))
	}
	for _, capa := range capas {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			return report
		}
		if capa.Status.Terminal() {
			continue
		}
		report.Processed++
		overdue := daysBetween(capa.TargetDate, now)
		if overdue <= 0 {
			if remindCapa(ctx, capa, -overdue, policy, notifier, now, &report) {
				report.Reminded++
			}
			continue
		}
		if capa.LastEscalatedOn != nil && utcDate(*capa.LastEscalatedOn).Equal(today) {
			continue
		}
		// the listed copy may be stale; re-check against the stored record
		var daysOverdue int
		next, err := repo.UpdateCapa(ctx, capa.ID, func(current *Capa) error {
			daysOverdue = daysBetween(current.TargetDate, now)
			if current.Status.Terminal() || daysOverdue <= 0 {
				return ErrUnchanged
			}
			if current.LastEscalatedOn != nil && utcDate(*current.LastEscalatedOn).Equal(today) {
				return ErrUnchanged
			}
			*current = escalateCapa(*current, daysOverdue, today, now)
			return nil
		})
		if errors.Is(err, ErrUnchanged) {
			continue
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("escalate capa %s: %w", capa.ID, err))
			continue
		}
		report.Escalated++
		notify(ctx, notifier, domain.Event{
			Type:     domain.EventEscalation,
			Entity:   domain.EntityCapa,
			EntityID: capa.ID,
			Payload: map[string]any{
				"level":        next.EscalationLevel,
				"days_overdue": daysOverdue,
				"target_date":  next.TargetDate.UTC().Format(time.DateOnly),
			},
			OccurredAt: now,
		}, &report)
	}

	rounds, err := repo.ListRounds(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("list rounds: %w", err))
	}
	for _, round := range rounds {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			return report
		}
		switch round.Status {
		case domain.RoundCompleted, domain.RoundCancelled, domain.RoundOnHold:
			continue
		}
		if ResolveRoundStatus(RoundClockFor(round, now)) == round.Status {
			continue
		}
		var previous domain.RoundStatus
		saved, err := repo.UpdateRound(ctx, round.ID, func(current *Round) error {
			switch current.Status {
			case domain.RoundCompleted, domain.RoundCancelled, domain.RoundOnHold:
				return ErrUnchanged
			}
			status := ResolveRoundStatus(RoundClockFor(*current, now))
			if status == current.Status {
				return ErrUnchanged
			}
			previous = current.Status
			current.Status = status
			return nil
		})
		if errors.Is(err, ErrUnchanged) {
			continue
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("refresh round %s: %w", round.ID, err))
			continue
		}
		report.RoundsUpdated++
		if saved.Status == domain.RoundOverdue {
			notify(ctx, notifier, domain.Event{
				Type:       domain.EventRoundOverdue,
				Entity:     domain.EntityRound,
				EntityID:   round.ID,
				Payload:    map[string]any{"from_status": string(previous)},
				OccurredAt: now,
			}, &report)
		}
	}
	return report
}

// escalateCapa raises the level by one, capped at MaxEscalationLevel. The
// history entry is appended even when the level is already capped.
func escalateCapa(capa Capa, daysOverdue int, today, now time.Time) Capa {
	next := cloneCapaValue(capa)
	from := capa.EscalationLevel
	to := from + 1
	if to > domain.MaxEscalationLevel {
		to = domain.MaxEscalationLevel
	}
	next.EscalationLevel = to
	next.LastEscalatedOn = timePtr(today)
	next.History = append(next.History, domain.CapaHistoryEntry{
		Timestamp:  now,
		ActorID:    "system",
		Kind:       domain.HistoryEscalation,
		FromStatus: capa.Status,
		ToStatus:   capa.Status,
		Note:       fmt.Sprintf("level %d -> %d, %d day(s) overdue", from, to, daysOverdue),
	})
	return next
}

func remindCapa(ctx context.Context, capa Capa, daysLeft int, policy Policy, notifier Notifier, now time.Time, report *SweepReport) bool {
	if daysLeft < 0 || daysLeft > policy.ReminderWindowDays {
		return false
	}
	if capa.VerificationStatus != domain.VerificationPending {
		return false
	}
	notify(ctx, notifier, domain.Event{
		Type:     domain.EventCapaReminder,
		Entity:   domain.EntityCapa,
		EntityID: capa.ID,
		Payload: map[string]any{
			"days_left":   daysLeft,
			"target_date": capa.TargetDate.UTC().Format(time.DateOnly),
		},
		OccurredAt: now,
	}, report)
	return true
}

func notify(ctx context.Context, notifier Notifier, event domain.Event, report *SweepReport) {
	if err := notifier.Notify(ctx, event); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("notify %s %s: %w", event.Type, event.EntityID, err))
	}
}
