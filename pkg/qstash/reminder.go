package qstash

import (
	"context"
	"errors"
	"strings"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
)

// ReminderPublisher schedules one delayed reminder message per committed
// appointment, delivered ReminderLead before the appointment starts.
type ReminderPublisher struct {
	client      *Client
	destination string
	lead        time.Duration
	now         func() time.Time
}

var _ contractx.ReminderPublisher = (*ReminderPublisher)(nil)

type reminderPayload struct {
	EventID   string    `json:"event_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Timezone  string    `json:"timezone,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	Status    string    `json:"status"`
}

func NewReminderPublisher(client *Client, cfg Config) (*ReminderPublisher, error) {
	if client == nil {
		return nil, errors.New("qstash client is required")
	}
	destination := strings.TrimSpace(cfg.DestinationURL)
	if destination == "" {
		return nil, errors.New("qstash destination url is required")
	}

	lead := cfg.ReminderLead
	if lead <= 0 {
		lead = 30 * time.Minute
	}

	return &ReminderPublisher{
		client:      client,
		destination: destination,
		lead:        lead,
		now:         time.Now,
	}, nil
}

func (p *ReminderPublisher) PublishReminder(ctx context.Context, record contractx.AppointmentRecord) error {
	delay := record.Window.Start.Add(-p.lead).Sub(p.now())
	if delay < 0 {
		delay = 0
	}

	return p.client.PublishJSON(ctx, p.destination, delay, reminderPayload{
		EventID:   record.EventID,
		Start:     record.Window.Start.UTC(),
		End:       record.Window.End.UTC(),
		Timezone:  record.Window.Timezone,
		Attendees: record.Attendees,
		Status:    string(record.Status),
	})
}
