package core

import (
	"context"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// VerificationGateRule blocks a CAPA from reaching verified, or closed
// straight out of verification, while a required verification action is open.
func VerificationGateRule() domain.Rule {
	return verificationGateRule{}
}

type verificationGateRule struct{}

func (verificationGateRule) Name() string { return "verification_gate" }

func (verificationGateRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityCapa {
			continue
		}
		after, ok := domain.ChangeValue[domain.Capa](change.After)
		if !ok {
			continue
		}
		before, _ := domain.ChangeValue[domain.Capa](change.Before)
		entering := after.Status != before.Status &&
			(after.Status == domain.CapaVerified || (after.Status == domain.CapaClosed && before.Status == domain.CapaVerification))
		if !entering {
			continue
		}
		pending := PendingVerificationActions(view.ListActions(after.ID))
		if len(pending) == 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "verification_gate",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("capa %s has %d incomplete required verification action(s)", after.ID, len(pending)),
			Entity:   domain.EntityCapa,
			EntityID: after.ID,
		})
	}
	return res, nil
}
