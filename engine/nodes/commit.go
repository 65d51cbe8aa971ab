package turnnode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	coordinatorx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/coordinator"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// Commit applies a confirmed mutating intent through the transaction
// coordinator and translates every outcome into a user-facing reply and a
// terminal phase.
func Commit(
	ctx context.Context,
	in *GraphState,
	coordinator *coordinatorx.Coordinator,
	reminders contractx.ReminderPublisher,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	if in.replied() || !in.CommitReady {
		return in, nil
	}

	conv := in.Conversation
	st := &conv.State
	if st.PendingIntent == nil || !st.PendingIntent.Type.Mutating() {
		return nil, fmt.Errorf("%w: nothing confirmed to commit", contractx.ErrValidation)
	}
	intent := st.PendingIntent.Type

	req := coordinatorx.CommitRequest{
		ConversationID: conv.ConversationID,
		Account:        conv.AccountID,
		Intent:         intent,
		Attendees:      splitAttendees(st.FilledSlots[statex.SlotAttendees]),
		Summary:        commitSummary(st),
		IdempotencyKey: fmt.Sprintf("%s-%d", conv.ConversationID, conv.NextSeq()),
	}
	if st.ProposedWindow != nil {
		req.Window = *st.ProposedWindow
	}
	if intent != statex.IntentCreate {
		if conv.LastEventID == "" {
			st.Reset()
			in.Response = "I couldn't find that appointment anymore, so there's nothing to change. Want to book a new one?"
			return in, nil
		}
		req.EventID = conv.LastEventID
	}

	record, err := coordinator.Commit(ctx, req)
	if err != nil {
		return commitFailure(in, st, intent, err)
	}

	in.Appointment = &record
	switch intent {
	case statex.IntentCancel:
		conv.LastEventID = ""
		st.Phase = statex.PhaseCancelled
		in.Response = "Done, your appointment is cancelled."
	case statex.IntentReschedule:
		conv.LastEventID = record.EventID
		st.Phase = statex.PhaseCommitted
		in.Response = fmt.Sprintf("Done, your appointment is moved to %s.", formatWindow(&record.Window))
	default:
		conv.LastEventID = record.EventID
		st.Phase = statex.PhaseCommitted
		in.Response = fmt.Sprintf("Booked: %s.", formatWindow(&record.Window))
	}

	publishReminder(ctx, reminders, in.ConversationID, record)
	return in, nil
}

func commitFailure(in *GraphState, st *statex.DialogueState, intent statex.IntentType, err error) (*GraphState, error) {
	switch {
	case errors.Is(err, contractx.ErrStaleAppointmentReference):
		st.Phase = statex.PhaseFailed
		st.FailureReason = err.Error()
		in.Response = "That appointment no longer exists on the calendar, so there's nothing to change. Want to book a new one?"
	case errors.Is(err, contractx.ErrUncertainCommitOutcome):
		st.Phase = statex.PhaseFailed
		st.FailureReason = err.Error()
		in.Response = "I couldn't verify whether that went through. Please check your calendar before asking me again, so we don't double-book."
	default:
		if !gatewayFailure(in, st, err) {
			return nil, err
		}
	}

	log.Warn().
		Str("conversation_id", in.ConversationID).
		Str("intent", string(intent)).
		Err(err).
		Msg("commit failed")
	return in, nil
}

// gatewayFailure translates a calendar gateway error into the FAILED phase and
// a user-facing reply. Unrecognized errors return false and must be propagated
// by the caller.
func gatewayFailure(in *GraphState, st *statex.DialogueState, err error) bool {
	switch {
	case errors.Is(err, contractx.ErrPermissionDenied):
		in.Response = "I don't have permission to access that calendar. Please reconnect your calendar account and try again."
	case errors.Is(err, contractx.ErrQuotaExceeded):
		in.Response = "The calendar service is rate limiting us right now. Please try again in a few minutes."
	case errors.Is(err, contractx.ErrGatewayUnavailable):
		in.Response = "The calendar service isn't responding right now. Nothing was changed; please try again shortly."
	default:
		return false
	}
	st.Phase = statex.PhaseFailed
	st.FailureReason = err.Error()
	return true
}

func commitSummary(st *statex.DialogueState) string {
	attendees := splitAttendees(st.FilledSlots[statex.SlotAttendees])
	if len(attendees) > 0 {
		return "Appointment with " + strings.Join(attendees, ", ")
	}
	return "Appointment"
}

func publishReminder(ctx context.Context, reminders contractx.ReminderPublisher, conversationID string, record contractx.AppointmentRecord) {
	if reminders == nil || record.Status == contractx.StatusCancelled {
		return
	}
	if err := reminders.PublishReminder(ctx, record); err != nil {
		// Reminders are best-effort; the booking already succeeded.
		log.Warn().
			Str("conversation_id", conversationID).
			Str("event_id", record.EventID).
			Err(err).
			Msg("reminder publish failed")
	}
}
