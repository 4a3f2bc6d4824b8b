package core

import (
	"context"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// RoundCompletionRule keeps the completed status and full completion in step.
func RoundCompletionRule() domain.Rule {
	return roundCompletionRule{}
}

type roundCompletionRule struct{}

func (roundCompletionRule) Name() string { return "round_completion" }

func (roundCompletionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRound {
			continue
		}
		round, ok := domain.ChangeValue[domain.Round](change.After)
		if !ok {
			continue
		}
		full := round.CompletionPercent >= 100
		completed := round.Status == domain.RoundCompleted
		if full == completed {
			continue
		}
		msg := fmt.Sprintf("round %s is completed at %.1f%% completion", round.ID, round.CompletionPercent)
		if full {
			msg = fmt.Sprintf("round %s is fully answered but %s", round.ID, round.Status)
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "round_completion",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityRound,
			EntityID: round.ID,
		})
	}
	return res, nil
}
