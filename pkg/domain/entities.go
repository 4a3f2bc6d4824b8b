// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by the quality rounds and CAPA engine.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRound identifies an audit round record.
	EntityRound EntityType = "round"
	// EntityAnswer identifies an evaluation answer record.
	EntityAnswer EntityType = "evaluation_answer"
	// EntityCategory identifies a checklist category record.
	EntityCategory EntityType = "category"
	// EntityItem identifies a checklist item record.
	EntityItem EntityType = "item"
	// EntityCapa identifies a corrective/preventive action plan record.
	EntityCapa EntityType = "capa"
	// EntityAction identifies an action ledger entry.
	EntityAction EntityType = "action"
)

// AnswerStatus is the evaluator's verdict for one checklist item.
type AnswerStatus string

// Canonical answer statuses.
const (
	AnswerApplied       AnswerStatus = "applied"
	AnswerPartial       AnswerStatus = "partial"
	AnswerNotApplied    AnswerStatus = "not_applied"
	AnswerNotApplicable AnswerStatus = "not_applicable"
)

// Valid reports whether the status is one of the canonical answer statuses.
func (s AnswerStatus) Valid() bool {
	switch s {
	case AnswerApplied, AnswerPartial, AnswerNotApplied, AnswerNotApplicable:
		return true
	}
	return false
}

// RoundStatus enumerates round lifecycle states.
type RoundStatus string

// Canonical round statuses.
const (
	RoundScheduled  RoundStatus = "scheduled"
	RoundInProgress RoundStatus = "in_progress"
	RoundOverdue    RoundStatus = "overdue"
	RoundCompleted  RoundStatus = "completed"
	RoundCancelled  RoundStatus = "cancelled"
	RoundOnHold     RoundStatus = "on_hold"
)

// CapaStatus enumerates the CAPA lifecycle. The order is the nominal path; it
// is not strictly linear (rejected loops back to in_progress).
type CapaStatus string

// Canonical CAPA statuses.
const (
	CapaPending      CapaStatus = "pending"
	CapaAssigned     CapaStatus = "assigned"
	CapaInProgress   CapaStatus = "in_progress"
	CapaImplemented  CapaStatus = "implemented"
	CapaVerification CapaStatus = "verification"
	CapaVerified     CapaStatus = "verified"
	CapaRejected     CapaStatus = "rejected"
	CapaClosed       CapaStatus = "closed"
)

// Terminal reports whether escalation stops for the status.
func (s CapaStatus) Terminal() bool {
	return s == CapaVerified || s == CapaClosed
}

// VerificationStatus tracks the reviewer side of a CAPA.
type VerificationStatus string

// Canonical verification statuses.
const (
	VerificationPending  VerificationStatus = "pending"
	VerificationInReview VerificationStatus = "in_review"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ActionType tags an action ledger entry.
type ActionType string

// Action ledger entry types.
const (
	ActionCorrective   ActionType = "corrective"
	ActionPreventive   ActionType = "preventive"
	ActionVerification ActionType = "verification"
)

// ActionStatus is the micro status machine of a ledger entry.
type ActionStatus string

// Action ledger statuses.
const (
	ActionOpen       ActionStatus = "open"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionCancelled  ActionStatus = "cancelled"
)

// HistoryKind classifies CAPA history entries.
type HistoryKind string

// CAPA history entry kinds.
const (
	HistoryCreated         HistoryKind = "created"
	HistoryTransition      HistoryKind = "transition"
	HistoryEscalation      HistoryKind = "escalation"
	HistoryActionsReplaced HistoryKind = "actions_replaced"
	HistoryTargetExtended  HistoryKind = "target_extended"
)

// MaxEscalationLevel caps Capa.EscalationLevel.
const MaxEscalationLevel = 3

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one checklist question carrying a relative weight.
type Item struct {
	Base
	Code     string  `json:"code"`
	Title    string  `json:"title"`
	Weight   float64 `json:"weight"`
	Severity int     `json:"severity"`
}

// CategoryItem places an item inside a category at a given position.
type CategoryItem struct {
	ItemID   string `json:"item_id"`
	Position int    `json:"position"`
}

// Category groups items and contributes WeightPercent to the overall score.
type Category struct {
	Base
	Name          string         `json:"name"`
	WeightPercent float64        `json:"weight_percent"`
	Active        bool           `json:"active"`
	Items         []CategoryItem `json:"items"`
}

// EvaluationAnswer is one answer to one item within one evaluation pass.
type EvaluationAnswer struct {
	Base
	RoundID     string       `json:"round_id"`
	ItemID      string       `json:"item_id"`
	Pass        int          `json:"pass"`
	Status      AnswerStatus `json:"status"`
	Comment     string       `json:"comment,omitempty"`
	FlagForCapa bool         `json:"flag_for_capa"`
	EvaluatorID string       `json:"evaluator_id,omitempty"`
}

// CategoryScore is the derived compliance figure for one category in one round.
type CategoryScore struct {
	CategoryID        string  `json:"category_id"`
	WeightPercent     float64 `json:"weight_percent"`
	WeightedSum       float64 `json:"weighted_sum"`
	MaxWeightedSum    float64 `json:"max_weighted_sum"`
	CompliancePercent float64 `json:"compliance_percent"`
}

// Round is one audit pass against a checklist.
type Round struct {
	Base
	Title             string          `json:"title"`
	DepartmentID      string          `json:"department_id,omitempty"`
	CategoryIDs       []string        `json:"category_ids,omitempty"`
	ScheduledDate     time.Time       `json:"scheduled_date"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
	DerivedEndDate    *time.Time      `json:"derived_end_date,omitempty"`
	CompletionPercent float64         `json:"completion_percent"`
	CompliancePercent float64         `json:"compliance_percent"`
	CategoryScores    []CategoryScore `json:"category_scores,omitempty"`
	Status            RoundStatus     `json:"status"`
	CreatedBy         string          `json:"created_by,omitempty"`
	Evaluators        []string        `json:"evaluators,omitempty"`
	PassCount         int             `json:"pass_count"`
	LastEvaluatedAt   *time.Time      `json:"last_evaluated_at,omitempty"`
	FinalizedAt       *time.Time      `json:"finalized_at,omitempty"`
}

// CapaHistoryEntry is an append-only record of a CAPA state change.
type CapaHistoryEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	ActorID    string      `json:"actor_id"`
	Kind       HistoryKind `json:"kind"`
	FromStatus CapaStatus  `json:"from_status,omitempty"`
	ToStatus   CapaStatus  `json:"to_status,omitempty"`
	Note       string      `json:"note,omitempty"`
}

// Capa is a corrective/preventive action plan.
type Capa struct {
	Base
	Title              string             `json:"title"`
	Description        string             `json:"description,omitempty"`
	RootCause          string             `json:"root_cause,omitempty"`
	RoundID            *string            `json:"round_id,omitempty"`
	ItemID             *string            `json:"item_id,omitempty"`
	AnswerID           *string            `json:"answer_id,omitempty"`
	Severity           int                `json:"severity"`
	SLADays            int                `json:"sla_days"`
	TargetDate         time.Time          `json:"target_date"`
	Status             CapaStatus         `json:"status"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	AssignedToID       *string            `json:"assigned_to_id,omitempty"`
	EscalationLevel    int                `json:"escalation_level"`
	LastEscalatedOn    *time.Time         `json:"last_escalated_on,omitempty"`
	EscalationResetAt  *time.Time         `json:"escalation_reset_at,omitempty"`
	ClosedAt           *time.Time         `json:"closed_at,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	VerifiedBy         string             `json:"verified_by,omitempty"`
	CreatedBy          string             `json:"created_by,omitempty"`
	History            []CapaHistoryEntry `json:"history,omitempty"`
}

// Action is one corrective, preventive, or verification task under a Capa.
type Action struct {
	Base
	CapaID       string       `json:"capa_id"`
	Type         ActionType   `json:"type"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	AssigneeID   string       `json:"assignee_id,omitempty"`
	Status       ActionStatus `json:"status"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Required     bool         `json:"required"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CompletedBy  string       `json:"completed_by,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	EvidenceKeys []string     `json:"evidence_keys,omitempty"`
	Position     int          `json:"position"`
}
