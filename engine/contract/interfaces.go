package contract

import (
	"context"

	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// IntentExtractor classifies one utterance against prior dialogue state.
type IntentExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// CalendarGateway is the single external calendar capability. Implementations
// translate provider failures into the sentinel errors in errors.go.
type CalendarGateway interface {
	ListBusy(ctx context.Context, account string, window statex.TimeWindow) ([]statex.TimeWindow, error)
	CreateEvent(ctx context.Context, account string, req CreateEventRequest) (AppointmentRecord, error)
	UpdateEvent(ctx context.Context, account, eventID string, window statex.TimeWindow) (AppointmentRecord, error)
	CancelEvent(ctx context.Context, account, eventID string) error

	// SupportsIdempotency reports whether CreateEvent collapses retried
	// requests carrying the same idempotency key.
	SupportsIdempotency() bool
}

// ReminderPublisher enqueues a post-commit reminder. Optional collaborator.
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, record AppointmentRecord) error
}
