package core

import (
	"context"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditStatus is the outcome recorded for an operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for the audit trail.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.ChangeAction
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// SweepObserver is implemented by metrics recorders that also track the
// counters of escalation sweeps.
type SweepObserver interface {
	ObserveSweep(ctx context.Context, report SweepReport)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type operationMetadata struct {
	entity domain.EntityType
	action domain.ChangeAction
}

// auditedOperations maps audited operation names to the entity they touch.
// Operations missing from the map are not audited.
var auditedOperations = map[string]operationMetadata{
	"create_item":                  {domain.EntityItem, domain.ChangeCreate},
	"create_category":              {domain.EntityCategory, domain.ChangeCreate},
	"update_category":              {domain.EntityCategory, domain.ChangeUpdate},
	"schedule_round":               {domain.EntityRound, domain.ChangeCreate},
	"submit_evaluation":            {domain.EntityRound, domain.ChangeUpdate},
	"refresh_round_status":         {domain.EntityRound, domain.ChangeUpdate},
	"hold_round":                   {domain.EntityRound, domain.ChangeUpdate},
	"resume_round":                 {domain.EntityRound, domain.ChangeUpdate},
	"cancel_round":                 {domain.EntityRound, domain.ChangeUpdate},
	"delete_round":                 {domain.EntityRound, domain.ChangeDelete},
	"open_capa":                    {domain.EntityCapa, domain.ChangeCreate},
	"assign_capa":                  {domain.EntityCapa, domain.ChangeUpdate},
	"start_capa":                   {domain.EntityCapa, domain.ChangeUpdate},
	"rework_capa":                  {domain.EntityCapa, domain.ChangeUpdate},
	"implement_capa":               {domain.EntityCapa, domain.ChangeUpdate},
	"submit_capa_for_verification": {domain.EntityCapa, domain.ChangeUpdate},
	"verify_capa":                  {domain.EntityCapa, domain.ChangeUpdate},
	"close_capa":                   {domain.EntityCapa, domain.ChangeUpdate},
	"reject_capa":                  {domain.EntityCapa, domain.ChangeUpdate},
	"extend_capa_target":           {domain.EntityCapa, domain.ChangeUpdate},
	"replace_capa_actions":         {domain.EntityCapa, domain.ChangeUpdate},
	"update_action":                {domain.EntityAction, domain.ChangeUpdate},
	"attach_evidence":              {domain.EntityAction, domain.ChangeUpdate},
}

func (s *Service) recordAudit(ctx context.Context, operation, entityID string, err error, duration time.Duration) {
	meta, ok := auditedOperations[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
