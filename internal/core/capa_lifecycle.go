package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// capaEdges lists every status change a CAPA may make. Verify with close
// moves verification straight to closed.
var capaEdges = map[CapaStatus][]CapaStatus{
	domain.CapaPending:      {domain.CapaAssigned},
	domain.CapaAssigned:     {domain.CapaInProgress, domain.CapaImplemented},
	domain.CapaInProgress:   {domain.CapaImplemented},
	domain.CapaImplemented:  {domain.CapaVerification},
	domain.CapaVerification: {domain.CapaVerified, domain.CapaRejected, domain.CapaClosed},
	domain.CapaVerified:     {domain.CapaClosed},
	domain.CapaRejected:     {domain.CapaInProgress},
	domain.CapaClosed:       nil,
}

// CapaTransitionAllowed reports whether a CAPA may move from one status to
// another. Staying in place is always allowed.
func CapaTransitionAllowed(from, to CapaStatus) bool {
	if from == to {
		return true
	}
	for _, next := range capaEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionContext carries the actor, note and instant of a transition.
type TransitionContext struct {
	ActorID string
	Note    string
	At      time.Time
}

// CapaDraft is the input for opening a CAPA.
type CapaDraft struct {
	Title        string
	Description  string
	RootCause    string
	RoundID      *string
	ItemID       *string
	AnswerID     *string
	Severity     int
	SLADays      int
	TargetDate   *time.Time
	AssignedToID *string
}

// CapaMachine applies CAPA lifecycle transitions. Every method returns a new
// Capa value and never mutates its input.
type CapaMachine struct {
	policy Policy
}

// NewCapaMachine constructs a machine using policy for SLA defaults.
func NewCapaMachine(policy Policy) CapaMachine {
	return CapaMachine{policy: policy}
}

func capaInvalid(c Capa, field, format string, args ...any) error {
	return domain.ValidationError{Entity: domain.EntityCapa, ID: c.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func cloneCapaValue(c Capa) Capa {
	cp := c
	cp.History = append([]domain.CapaHistoryEntry(nil), c.History...)
	return cp
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NewCapa validates a draft and builds a pending CAPA. Severity defaults to 3;
// SLA defaults from the policy; the target date is created+SLA unless given.
func (m CapaMachine) NewCapa(draft CapaDraft, tc TransitionContext) (Capa, error) {
	c := Capa{
		Title:              strings.TrimSpace(draft.Title),
		Description:        draft.Description,
		RootCause:          draft.RootCause,
		RoundID:            draft.RoundID,
		ItemID:             draft.ItemID,
		AnswerID:           draft.AnswerID,
		Severity:           draft.Severity,
		SLADays:            draft.SLADays,
		Status:             domain.CapaPending,
		VerificationStatus: domain.VerificationPending,
		CreatedBy:          tc.ActorID,
	}
	if c.Title == "" {
		return Capa{}, capaInvalid(c, "title", "required")
	}
	if c.Severity == 0 {
		c.Severity = 3
	}
	if c.Severity < 1 || c.Severity > 5 {
		return Capa{}, capaInvalid(c, "severity", "must be between 1 and 5, got %d", c.Severity)
	}
	if c.SLADays < 0 {
		return Capa{}, capaInvalid(c, "sla_days", "must be positive, got %d", c.SLADays)
	}
	if c.SLADays == 0 {
		c.SLADays = m.policy.SLADays(c.Severity)
	}
	if draft.TargetDate != nil {
		c.TargetDate = draft.TargetDate.UTC()
	} else {
		c.TargetDate = tc.At.UTC().AddDate(0, 0, c.SLADays)
	}
	c.History = []domain.CapaHistoryEntry{{
		Timestamp: tc.At.UTC(),
		ActorID:   tc.ActorID,
		Kind:      domain.HistoryCreated,
		ToStatus:  domain.CapaPending,
		Note:      tc.Note,
	}}
	if draft.AssignedToID != nil && strings.TrimSpace(*draft.AssignedToID) != "" {
		return m.Assign(c, *draft.AssignedToID, tc)
	}
	return c, nil
}

func (m CapaMachine) move(c Capa, op string, allowed []CapaStatus, to CapaStatus, tc TransitionContext) (Capa, error) {
	ok := false
	for _, s := range allowed {
		if c.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return Capa{}, capaInvalid(c, "status", "cannot %s from %s", op, c.Status)
	}
	next := cloneCapaValue(c)
	next.Status = to
	next.History = append(next.History, domain.CapaHistoryEntry{
		Timestamp:  tc.At.UTC(),
		ActorID:    tc.ActorID,
		Kind:       domain.HistoryTransition,
		FromStatus: c.Status,
		ToStatus:   to,
		Note:       tc.Note,
	})
	return next, nil
}

// Assign moves pending|assigned to assigned. Reassignment keeps the status.
func (m CapaMachine) Assign(c Capa, assigneeID string, tc TransitionContext) (Capa, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return Capa{}, capaInvalid(c, "assigned_to_id", "required")
	}
	next, err := m.move(c, "assign", []CapaStatus{domain.CapaPending, domain.CapaAssigned}, domain.CapaAssigned, tc)
	if err != nil {
		return Capa{}, err
	}
	next.AssignedToID = &assigneeID
	return next, nil
}

// Start moves assigned to in_progress.
func (m CapaMachine) Start(c Capa, tc TransitionContext) (Capa, error) {
	return m.move(c, "start", []CapaStatus{domain.CapaAssigned}, domain.CapaInProgress, tc)
}

// Rework sends a rejected CAPA back to in_progress and reopens verification.
func (m CapaMachine) Rework(c Capa, tc TransitionContext) (Capa, error) {
	next, err := m.move(c, "rework", []CapaStatus{domain.CapaRejected}, domain.CapaInProgress, tc)
	if err != nil {
		return Capa{}, err
	}
	next.VerificationStatus = domain.VerificationPending
	return next, nil
}

// Implement marks the plan implemented. It is not gated on action completion.
func (m CapaMachine) Implement(c Capa, tc TransitionContext) (Capa, error) {
	return m.move(c, "implement", []CapaStatus{domain.CapaAssigned, domain.CapaInProgress}, domain.CapaImplemented, tc)
}

// SubmitForVerification hands an implemented CAPA to reviewers.
func (m CapaMachine) SubmitForVerification(c Capa, tc TransitionContext) (Capa, error) {
	next, err := m.move(c, "submit for verification", []CapaStatus{domain.CapaImplemented}, domain.CapaVerification, tc)
	if err != nil {
		return Capa{}, err
	}
	next.VerificationStatus = domain.VerificationInReview
	return next, nil
}

// PendingVerificationActions returns required verification actions that are
// not completed.
func PendingVerificationActions(actions []Action) []Action {
	var pending []Action
	for _, a := range actions {
		if a.Type == domain.ActionVerification && a.Required && a.Status != domain.ActionCompleted {
			pending = append(pending, a)
		}
	}
	return pending
}

// Verify moves verification to verified once every required verification
// action is completed. With closeNow the CAPA is also closed in the same call.
func (m CapaMachine) Verify(c Capa, actions []Action, closeNow bool, tc TransitionContext) (Capa, error) {
	if c.Status != domain.CapaVerification {
		return Capa{}, capaInvalid(c, "status", "cannot verify from %s", c.Status)
	}
	if pending := PendingVerificationActions(actions); len(pending) > 0 {
		titles := make([]string, 0, len(pending))
		for _, a := range pending {
			titles = append(titles, a.Title)
		}
		return Capa{}, capaInvalid(c, "actions", "%d required verification action(s) incomplete: %s", len(pending), strings.Join(titles, ", "))
	}
	next, err := m.move(c, "verify", []CapaStatus{domain.CapaVerification}, domain.CapaVerified, tc)
	if err != nil {
		return Capa{}, err
	}
	next.VerificationStatus = domain.VerificationVerified
	next.VerifiedAt = timePtr(tc.At.UTC())
	next.VerifiedBy = tc.ActorID
	if closeNow {
		return m.Close(next, tc)
	}
	return next, nil
}

// Close closes a verified CAPA.
func (m CapaMachine) Close(c Capa, tc TransitionContext) (Capa, error) {
	next, err := m.move(c, "close", []CapaStatus{domain.CapaVerified}, domain.CapaClosed, tc)
	if err != nil {
		return Capa{}, err
	}
	next.ClosedAt = timePtr(tc.At.UTC())
	return next, nil
}

// Reject fails verification. The escalation level is left untouched.
func (m CapaMachine) Reject(c Capa, tc TransitionContext) (Capa, error) {
	next, err := m.move(c, "reject", []CapaStatus{domain.CapaVerification}, domain.CapaRejected, tc)
	if err != nil {
		return Capa{}, err
	}
	next.VerificationStatus = domain.VerificationRejected
	return next, nil
}

// ExtendTarget moves the target date of an open CAPA and resets escalation.
func (m CapaMachine) ExtendTarget(c Capa, target time.Time, tc TransitionContext) (Capa, error) {
	if c.Status.Terminal() {
		return Capa{}, capaInvalid(c, "status", "cannot extend target of %s capa", c.Status)
	}
	if target.IsZero() {
		return Capa{}, capaInvalid(c, "target_date", "required")
	}
	if !utcDate(target).After(utcDate(tc.At)) {
		return Capa{}, capaInvalid(c, "target_date", "must be after today")
	}
	next := cloneCapaValue(c)
	note := fmt.Sprintf("target %s -> %s", c.TargetDate.UTC().Format(time.DateOnly), target.UTC().Format(time.DateOnly))
	if tc.Note != "" {
		note += ": " + tc.Note
	}
	next.TargetDate = target.UTC()
	next.EscalationLevel = 0
	next.LastEscalatedOn = nil
	next.EscalationResetAt = timePtr(tc.At.UTC())
	next.History = append(next.History, domain.CapaHistoryEntry{
		Timestamp:  tc.At.UTC(),
		ActorID:    tc.ActorID,
		Kind:       domain.HistoryTargetExtended,
		FromStatus: c.Status,
		ToStatus:   c.Status,
		Note:       note,
	})
	return next, nil
}
