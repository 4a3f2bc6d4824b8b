package core

import (
	"context"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// LogNotifier writes every domain event to a Logger at info level. It is the
// default sink when no delivery channel is configured.
type LogNotifier struct {
	Logger Logger
}

// NewLogNotifier constructs a notifier that logs through logger.
func NewLogNotifier(logger Logger) LogNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return LogNotifier{Logger: logger}
}

// Notify implements domain.Notifier.
func (n LogNotifier) Notify(_ context.Context, event domain.Event) error {
	logger := n.Logger
	if logger == nil {
		return nil
	}
	args := []any{
		"type", string(event.Type),
		"entity", string(event.Entity),
		"entity_id", event.EntityID,
		"occurred_at", event.OccurredAt,
	}
	for k, v := range event.Payload {
		args = append(args, k, v)
	}
	logger.Info("domain event", args...)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Event) error { return nil }
