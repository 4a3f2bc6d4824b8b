package core

import (
	"context"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// EscalationCapRule keeps CAPA escalation levels within 0..MaxEscalationLevel,
// allows at most one step up per commit and only lets the level fall on
// closure or an explicit escalation reset.
func EscalationCapRule() domain.Rule {
	return escalationCapRule{}
}

type escalationCapRule struct{}

func (escalationCapRule) Name() string { return "escalation_cap" }

func (r escalationCapRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityCapa {
			continue
		}
		after, ok := domain.ChangeValue[domain.Capa](change.After)
		if !ok {
			continue
		}
		if after.EscalationLevel < 0 || after.EscalationLevel > domain.MaxEscalationLevel {
			res.Violations = append(res.Violations, r.violation(after.ID, "escalation level %d outside 0..%d", after.EscalationLevel, domain.MaxEscalationLevel))
			continue
		}
		before, ok := domain.ChangeValue[domain.Capa](change.Before)
		if !ok {
			continue
		}
		switch {
		case after.EscalationLevel > before.EscalationLevel+1:
			res.Violations = append(res.Violations, r.violation(after.ID, "escalation level jumped from %d to %d", before.EscalationLevel, after.EscalationLevel))
		case after.EscalationLevel < before.EscalationLevel && !escalationReset(before, after):
			res.Violations = append(res.Violations, r.violation(after.ID, "escalation level cannot drop from %d to %d without closure or reset", before.EscalationLevel, after.EscalationLevel))
		}
	}
	return res, nil
}

func (escalationCapRule) violation(id, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     "escalation_cap",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		Entity:   domain.EntityCapa,
		EntityID: id,
	}
}

func escalationReset(before, after domain.Capa) bool {
	if after.Status == domain.CapaClosed {
		return true
	}
	if after.EscalationResetAt == nil {
		return false
	}
	return before.EscalationResetAt == nil || after.EscalationResetAt.After(*before.EscalationResetAt)
}
