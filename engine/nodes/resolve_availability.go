package turnnode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	availabilityx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/availability"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// ResolveAvailability checks the proposed window against the calendar and
// either moves a mutating intent into confirmation, answers a query outright,
// or offers alternatives on conflict.
func ResolveAvailability(
	ctx context.Context,
	in *GraphState,
	gateway contractx.CalendarGateway,
	horizon time.Duration,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	if in.replied() || in.CommitReady {
		return in, nil
	}

	st := &in.Conversation.State
	if st.PendingIntent == nil {
		return in, nil
	}

	if st.PendingIntent.Type == statex.IntentCancel {
		st.Phase = statex.PhaseConfirming
		st.ConfirmRetries = 0
		in.Response = confirmationQuestion(statex.IntentCancel, nil, st.FilledSlots[statex.SlotAppointmentRef])
		return in, nil
	}

	if st.ProposedWindow == nil {
		return nil, fmt.Errorf("%w: no proposed window to resolve", contractx.ErrValidation)
	}
	proposed := *st.ProposedWindow

	busy, err := gateway.ListBusy(ctx, in.Conversation.AccountID, horizonWindow(proposed.Start, horizon, proposed.Timezone))
	if err != nil {
		if !gatewayFailure(in, st, err) {
			return nil, err
		}
		log.Warn().
			Str("conversation_id", in.ConversationID).
			Err(err).
			Msg("availability check failed")
		return in, nil
	}

	result := availabilityx.Resolve(proposed, proposed.Duration(), busy, availabilityx.WithHorizon(horizon))

	switch result.Status {
	case availabilityx.StatusFree:
		if st.PendingIntent.Type == statex.IntentQuery {
			in.Response = fmt.Sprintf("You're free at %s.", formatWindow(&proposed))
			st.Reset()
			return in, nil
		}
		st.Phase = statex.PhaseConfirming
		st.ConfirmRetries = 0
		in.Response = confirmationQuestion(st.PendingIntent.Type, &proposed, st.FilledSlots[statex.SlotAppointmentRef])
		return in, nil

	case availabilityx.StatusConflict:
		st.CandidateWindows = result.Candidates
		st.ProposedWindow = nil
		st.Unfill(statex.SlotTime)
		st.Phase = statex.PhaseClarifying
		st.LastClarificationAsked = statex.SlotTime
		in.Response = fmt.Sprintf(
			"%s is already taken. I could do %s. Would any of those work?",
			formatWindow(&proposed), formatCandidates(result.Candidates),
		)
		return in, nil

	default: // StatusNoAvailability
		st.ProposedWindow = nil
		st.Unfill(statex.SlotDate)
		st.Unfill(statex.SlotTime)
		st.Phase = statex.PhaseClarifying
		st.LastClarificationAsked = statex.SlotDate
		in.Response = "I couldn't find a free slot of that length in the next few days. Could you try a different day or a shorter meeting?"
		return in, nil
	}
}
