package core

import "github.com/salehzaid/slamaty-sub000/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Round              = domain.Round
	RoundStatus        = domain.RoundStatus
	EvaluationAnswer   = domain.EvaluationAnswer
	AnswerStatus       = domain.AnswerStatus
	Category           = domain.Category
	CategoryScore      = domain.CategoryScore
	Item               = domain.Item
	Capa               = domain.Capa
	CapaStatus         = domain.CapaStatus
	Action             = domain.Action
	ActionStatus       = domain.ActionStatus
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	Event              = domain.Event
	Notifier           = domain.Notifier
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
