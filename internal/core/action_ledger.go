package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// ActionInput is one caller-supplied step of an action plan.
type ActionInput struct {
	ID          string
	Title       string
	Description string
	AssigneeID  string
	Status      ActionStatus
	DueDate     *time.Time
	Required    bool
	CompletedAt *time.Time
	CompletedBy string
	Notes       string
}

// ActionPlan groups plan steps by kind. The slice order becomes the ledger
// position order: corrective, then preventive, then verification.
type ActionPlan struct {
	Corrective   []ActionInput
	Preventive   []ActionInput
	Verification []ActionInput
}

// Len returns the number of steps in the plan.
func (p ActionPlan) Len() int {
	return len(p.Corrective) + len(p.Preventive) + len(p.Verification)
}

func validActionStatus(s ActionStatus) bool {
	switch s {
	case domain.ActionOpen, domain.ActionInProgress, domain.ActionCompleted, domain.ActionCancelled:
		return true
	}
	return false
}

func actionInvalid(id, field, format string, args ...any) error {
	return domain.ValidationError{Entity: domain.EntityAction, ID: id, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NormalizeActionPlan converts a tagged plan into the uniform ledger. Every
// entry gets its type and position; status defaults to open; Required only
// survives on verification steps; CompletedAt is set iff status is completed.
// The whole plan is validated before anything is returned.
func NormalizeActionPlan(capaID string, plan ActionPlan, now time.Time) ([]Action, error) {
	now = now.UTC()
	out := make([]Action, 0, plan.Len())
	groups := []struct {
		kind   domain.ActionType
		inputs []ActionInput
	}{
		{domain.ActionCorrective, plan.Corrective},
		{domain.ActionPreventive, plan.Preventive},
		{domain.ActionVerification, plan.Verification},
	}
	for _, g := range groups {
		for i, in := range g.inputs {
			title := strings.TrimSpace(in.Title)
			if title == "" {
				return nil, actionInvalid(in.ID, "title", "%s step %d: required", g.kind, i+1)
			}
			status := in.Status
			if status == "" {
				status = domain.ActionOpen
			}
			if !validActionStatus(status) {
				return nil, actionInvalid(in.ID, "status", "%s step %d: unknown status %q", g.kind, i+1, status)
			}
			a := Action{
				Base:        domain.Base{ID: in.ID},
				CapaID:      capaID,
				Type:        g.kind,
				Title:       title,
				Description: in.Description,
				AssigneeID:  in.AssigneeID,
				Status:      status,
				Required:    in.Required && g.kind == domain.ActionVerification,
				Notes:       in.Notes,
				Position:    len(out),
			}
			if in.DueDate != nil {
				a.DueDate = timePtr(in.DueDate.UTC())
			}
			if status == domain.ActionCompleted {
				at := now
				if in.CompletedAt != nil {
					at = in.CompletedAt.UTC()
				}
				a.CompletedAt = &at
				a.CompletedBy = in.CompletedBy
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// actionEdges is the micro machine of ledger entries.
var actionEdges = map[ActionStatus][]ActionStatus{
	domain.ActionOpen:       {domain.ActionInProgress, domain.ActionCompleted, domain.ActionCancelled},
	domain.ActionInProgress: {domain.ActionOpen, domain.ActionCompleted, domain.ActionCancelled},
	domain.ActionCompleted:  {domain.ActionOpen, domain.ActionInProgress},
	domain.ActionCancelled:  {domain.ActionOpen},
}

// ActionTransitionAllowed reports whether a ledger entry may change status.
func ActionTransitionAllowed(from, to ActionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range actionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActionPatch is a partial update of a ledger entry. Nil fields are left
// unchanged; ClearDueDate removes the due date.
type ActionPatch struct {
	Status       *ActionStatus
	Notes        *string
	DueDate      *time.Time
	ClearDueDate bool
	CompletedAt  *time.Time
}

// ApplyActionPatch returns the patched action. Completing without an explicit
// CompletedAt stamps now and records the actor; leaving completed clears both.
func ApplyActionPatch(a Action, patch ActionPatch, actorID string, now time.Time) (Action, error) {
	next := a
	next.EvidenceKeys = append([]string(nil), a.EvidenceKeys...)
	if patch.Status != nil {
		to := *patch.Status
		if !validActionStatus(to) {
			return Action{}, actionInvalid(a.ID, "status", "unknown status %q", to)
		}
		if !ActionTransitionAllowed(a.Status, to) {
			return Action{}, actionInvalid(a.ID, "status", "transition %s -> %s not allowed", a.Status, to)
		}
		next.Status = to
	}
	if patch.CompletedAt != nil && next.Status != domain.ActionCompleted {
		return Action{}, actionInvalid(a.ID, "completed_at", "only allowed on completed actions")
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	switch {
	case patch.ClearDueDate:
		next.DueDate = nil
	case patch.DueDate != nil:
		next.DueDate = timePtr(patch.DueDate.UTC())
	}
	if next.Status == domain.ActionCompleted {
		switch {
		case patch.CompletedAt != nil:
			next.CompletedAt = timePtr(patch.CompletedAt.UTC())
			next.CompletedBy = actorID
		case a.Status != domain.ActionCompleted || next.CompletedAt == nil:
			next.CompletedAt = timePtr(now.UTC())
			next.CompletedBy = actorID
		}
	} else {
		next.CompletedAt = nil
		next.CompletedBy = ""
	}
	return next, nil
}

// ActionListing renders the ledger one entry per line, the format used for
// replacement history notes.
func ActionListing(actions []Action) string {
	var b strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)", a.Position+1, a.Type, a.Title, a.Status)
		if a.Required {
			b.WriteString(" required")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ActionsPatchNote returns a diff-match-patch patch turning the old listing
// into the new one. It is empty when the listings are identical.
func ActionsPatchNote(before, after []Action) string {
	oldText, newText := ActionListing(before), ActionListing(after)
	if oldText == newText {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	return dmp.PatchToText(dmp.PatchMake(oldText, diffs))
}
