package domain

import (
	"context"
	"time"
)

// EventType names domain events emitted to notifiers.
type EventType string

// Domain event types.
const (
	EventEscalation           EventType = "escalation"
	EventVerificationRequired EventType = "verification_required"
	EventCapaCreated          EventType = "capa_created"
	EventRoundOverdue         EventType = "round_overdue"
	EventCapaReminder         EventType = "capa_reminder"
)

// Event is a domain event handed to a Notifier after the owning transaction commits.
type Event struct {
	Type       EventType      `json:"type"`
	Entity     EntityType     `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Notifier delivers domain events. Delivery channels are the implementation's concern.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
