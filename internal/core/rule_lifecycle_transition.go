package core

import (
	"context"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// LifecycleTransitionRule blocks invalid states, moves out of terminal states
// and status changes that skip a lifecycle edge.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	allowed   func(from, to string) bool
	extractor func(value any) (id string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityRound: {
		entity:   domain.EntityRound,
		label:    "round",
		terminal: toSet(string(domain.RoundCompleted), string(domain.RoundCancelled)),
		valid: toSet(
			string(domain.RoundScheduled),
			string(domain.RoundInProgress),
			string(domain.RoundOverdue),
			string(domain.RoundCompleted),
			string(domain.RoundCancelled),
			string(domain.RoundOnHold),
		),
		extractor: func(value any) (string, string, bool) {
			round, ok := domain.ChangeValue[domain.Round](value)
			if !ok {
				return "", "", false
			}
			return round.ID, string(round.Status), true
		},
	},
	domain.EntityCapa: {
		entity:   domain.EntityCapa,
		label:    "capa",
		terminal: toSet(string(domain.CapaClosed)),
		valid: toSet(
			string(domain.CapaPending),
			string(domain.CapaAssigned),
			string(domain.CapaInProgress),
			string(domain.CapaImplemented),
			string(domain.CapaVerification),
			string(domain.CapaVerified),
			string(domain.CapaRejected),
			string(domain.CapaClosed),
		),
		allowed: func(from, to string) bool {
			return CapaTransitionAllowed(domain.CapaStatus(from), domain.CapaStatus(to))
		},
		extractor: func(value any) (string, string, bool) {
			capa, ok := domain.ChangeValue[domain.Capa](value)
			if !ok {
				return "", "", false
			}
			return capa.ID, string(capa.Status), true
		},
	},
	domain.EntityAction: {
		entity: domain.EntityAction,
		label:  "action",
		valid: toSet(
			string(domain.ActionOpen),
			string(domain.ActionInProgress),
			string(domain.ActionCompleted),
			string(domain.ActionCancelled),
		),
		allowed: func(from, to string) bool {
			return ActionTransitionAllowed(domain.ActionStatus(from), domain.ActionStatus(to))
		},
		extractor: func(value any) (string, string, bool) {
			action, ok := domain.ChangeValue[domain.Action](value)
			if !ok {
				return "", "", false
			}
			return action.ID, string(action.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(machine lifecycleMachine, id, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   machine.entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}

		afterID, afterState, hasAfter := machine.extractor(change.After)
		if hasAfter {
			if _, valid := machine.valid[afterState]; !valid {
				block(machine, afterID, "%s %s is set to invalid state %s", machine.label, afterID, afterState)
				continue
			}
		}

		beforeID, beforeState, hasBefore := machine.extractor(change.Before)
		if !hasBefore || !hasAfter || afterState == beforeState {
			continue
		}
		if _, terminal := machine.terminal[beforeState]; terminal {
			block(machine, afterID, "cannot move %s %s from terminal state %s to %s", machine.label, beforeID, beforeState, afterState)
			continue
		}
		if machine.allowed != nil && !machine.allowed(beforeState, afterState) {
			block(machine, afterID, "%s %s cannot move from %s to %s", machine.label, beforeID, beforeState, afterState)
		}
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
