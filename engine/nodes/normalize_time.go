package turnnode

import (
	"errors"
	"fmt"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
	timenormx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/timenorm"
)

// NormalizeTime asks for the next missing slot, or resolves the filled
// temporal slots into a concrete proposed window. Cancel intents carry no
// window and skip normalization entirely.
func NormalizeTime(in *GraphState) (*GraphState, error) {
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

	if slot, ok := st.NextMissing(); ok {
		st.Phase = statex.PhaseClarifying
		st.LastClarificationAsked = slot
		in.Response = clarificationQuestion(slot)
		return in, nil
	}

	if st.PendingIntent.Type == statex.IntentCancel {
		return in, nil
	}
	if st.ProposedWindow != nil {
		return in, nil
	}

	expression := temporalExpression(st.FilledSlots)
	result, err := timenormx.Normalize(expression, in.Now, in.UserTimezone)
	if err != nil {
		if errors.Is(err, contractx.ErrMalformedTemporalExpression) {
			st.Unfill(statex.SlotDate)
			st.Unfill(statex.SlotTime)
			st.Phase = statex.PhaseClarifying
			st.LastClarificationAsked = statex.SlotDate
			in.Response = "I couldn't work out that date and time. Could you rephrase it, for example \"tomorrow at 3pm\"?"
			return in, nil
		}
		return nil, err
	}

	if result.Ambiguous() {
		ask := result.Ambiguity.Slot
		for _, slot := range result.Ambiguity.Unresolved {
			st.Unfill(slot)
			if slotPriority(slot) < slotPriority(ask) {
				ask = slot
			}
		}
		st.Phase = statex.PhaseClarifying
		st.LastClarificationAsked = ask
		in.Response = clarificationQuestion(ask)
		return in, nil
	}

	st.ProposedWindow = &result.Window
	return in, nil
}
