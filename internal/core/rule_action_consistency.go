package core

import (
	"context"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// ActionConsistencyRule blocks ledger entries whose completion timestamp does
// not match their status, and Required flags on non-verification actions.
func ActionConsistencyRule() domain.Rule {
	return actionConsistencyRule{}
}

type actionConsistencyRule struct{}

func (actionConsistencyRule) Name() string { return "action_consistency" }

func (actionConsistencyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAction {
			continue
		}
		action, ok := domain.ChangeValue[domain.Action](change.After)
		if !ok {
			continue
		}
		var msg string
		switch {
		case action.Status == domain.ActionCompleted && action.CompletedAt == nil:
			msg = fmt.Sprintf("action %s is completed without completed_at", action.ID)
		case action.Status != domain.ActionCompleted && action.CompletedAt != nil:
			msg = fmt.Sprintf("action %s is %s but has completed_at", action.ID, action.Status)
		case action.Required && action.Type != domain.ActionVerification:
			msg = fmt.Sprintf("action %s of type %s cannot be required", action.ID, action.Type)
		}
		if msg != "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "action_consistency",
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityAction,
				EntityID: action.ID,
			})
		}
	}
	return res, nil
}
