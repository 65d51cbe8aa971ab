package turnnode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

const maxConfirmReasks = 1

// MergeIntent folds the extraction into the dialogue state machine: it settles
// confirmations, starts or abandons pending intents, and applies the tagged
// slot updates. It never touches the calendar.
func MergeIntent(in *GraphState) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	if in.replied() {
		return in, nil
	}

	st := &in.Conversation.State
	st.EnsureSlotsMap()

	if st.Phase == statex.PhaseConfirming {
		if done := mergeConfirmation(in, st); done {
			return in, nil
		}
	}

	if len(st.CandidateWindows) > 0 {
		if picked, ok := pickCandidate(in.Utterance, st.CandidateWindows); ok {
			st.CandidateWindows = nil
			if pendingType(st) == statex.IntentQuery {
				in.Response = fmt.Sprintf("You're free at %s.", formatWindow(&picked))
				st.Reset()
				return in, nil
			}
			st.ProposedWindow = &picked
			st.Phase = statex.PhaseConfirming
			st.ConfirmRetries = 0
			reference := st.FilledSlots[statex.SlotAppointmentRef]
			in.Response = confirmationQuestion(pendingType(st), st.ProposedWindow, reference)
			return in, nil
		}
	}

	ext := in.Extraction.Intent

	if st.PendingIntent == nil {
		if ext.Type == statex.IntentUnknown {
			in.Response = "I can help you book, move, or cancel appointments, or check when you're free. What would you like to do?"
			return in, nil
		}
		st.Begin(statex.StructuredIntent{Type: ext.Type})
	} else if ext.Type != statex.IntentUnknown && ext.Type != st.PendingIntent.Type {
		// The user switched topics mid-collection; the old intent is abandoned,
		// never committed half-filled.
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("abandoned_intent", string(st.PendingIntent.Type)).
			Str("new_intent", string(ext.Type)).
			Msg("pending intent abandoned")
		st.Begin(statex.StructuredIntent{Type: ext.Type})
	}

	applySlotUpdates(st, ext.Slots)

	if st.Phase == statex.PhaseClarifying || st.Phase == statex.PhaseConfirming {
		st.Phase = statex.PhaseCollecting
	}
	// Any slot change invalidates a previously proposed window.
	if len(ext.Slots) > 0 {
		st.ProposedWindow = nil
		st.CandidateWindows = nil
	}

	if report, ok := firstAmbiguity(in.Extraction.Ambiguities); ok {
		for _, slot := range report.Unresolved {
			st.Unfill(slot)
		}
		st.Phase = statex.PhaseClarifying
		st.LastClarificationAsked = report.Slot
		in.Response = clarificationQuestion(report.Slot)
		return in, nil
	}

	return in, nil
}

// mergeConfirmation settles a confirming-phase reply. Returns true when the
// turn's response is decided here.
func mergeConfirmation(in *GraphState, st *statex.DialogueState) bool {
	switch parseConfirmation(in.Utterance) {
	case confirmAffirmed:
		in.CommitReady = true
		return true
	case confirmDeclined:
		st.Reset()
		in.Response = "Okay, I won't go ahead with that. Anything else I can help with?"
		return true
	default:
		// A revision ("actually make it 4pm") falls through to the normal
		// merge; a reply with no slot content gets one re-ask, then the intent
		// is abandoned.
		if hasSlotContent(in.Extraction.Intent.Slots) {
			return false
		}
		if st.ConfirmRetries >= maxConfirmReasks {
			st.Reset()
			in.Response = "I couldn't tell whether that was a yes or a no, so I haven't scheduled anything. Let's start over whenever you're ready."
			return true
		}
		st.ConfirmRetries++
		reference := st.FilledSlots[statex.SlotAppointmentRef]
		in.Response = "Sorry, I need a clear yes or no. " + confirmationQuestion(pendingType(st), st.ProposedWindow, reference)
		return true
	}
}

func applySlotUpdates(st *statex.DialogueState, updates map[statex.SlotName]statex.SlotUpdate) {
	for slot, update := range updates {
		switch update.Op {
		case statex.SlotOpSet, statex.SlotOpCorrect:
			st.Fill(slot, update.Value)
		case statex.SlotOpLeave:
			// Explicitly untouched.
		}
	}
}

func hasSlotContent(updates map[statex.SlotName]statex.SlotUpdate) bool {
	for _, update := range updates {
		if update.Op == statex.SlotOpSet || update.Op == statex.SlotOpCorrect {
			return true
		}
	}
	return false
}

func firstAmbiguity(reports []contractx.AmbiguityReport) (contractx.AmbiguityReport, bool) {
	if len(reports) == 0 {
		return contractx.AmbiguityReport{}, false
	}
	// One question per turn: the highest-priority slot wins.
	best := reports[0]
	for _, r := range reports[1:] {
		if slotPriority(r.Slot) < slotPriority(best.Slot) {
			best = r
		}
	}
	return best, true
}

func slotPriority(slot statex.SlotName) int {
	for i, name := range statex.ClarificationOrder {
		if name == slot {
			return i
		}
	}
	return len(statex.ClarificationOrder)
}

func pendingType(st *statex.DialogueState) statex.IntentType {
	if st.PendingIntent == nil {
		return statex.IntentUnknown
	}
	return st.PendingIntent.Type
}
