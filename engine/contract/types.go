package contract

import (
	"time"

	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCancelled   AppointmentStatus = "cancelled"
)

// AppointmentRecord is the committed result. The provider owns it; the engine
// only retains EventID for later reschedule/cancel operations.
type AppointmentRecord struct {
	EventID   string            `json:"event_id"`
	Window    statex.TimeWindow `json:"window"`
	Attendees []string          `json:"attendees,omitempty"`
	Status    AppointmentStatus `json:"status"`
}

// AmbiguityReport marks an expression that parsed but stayed underspecified.
// It is an expected outcome driving clarification, never an error.
type AmbiguityReport struct {
	Slot       statex.SlotName   `json:"slot"`
	Unresolved []statex.SlotName `json:"unresolved,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

type ExtractRequest struct {
	Utterance    string                `json:"utterance"`
	Prior        *statex.DialogueState `json:"prior,omitempty"`
	Now          time.Time             `json:"now"`
	UserTimezone string                `json:"user_timezone,omitempty"`
}

type ExtractResult struct {
	Intent      statex.StructuredIntent `json:"intent"`
	Ambiguities []AmbiguityReport       `json:"ambiguities,omitempty"`
}

type CreateEventRequest struct {
	Window            statex.TimeWindow `json:"window"`
	Attendees         []string          `json:"attendees,omitempty"`
	Summary           string            `json:"summary,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	SendNotifications bool              `json:"send_notifications,omitempty"`
}
