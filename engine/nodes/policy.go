package turnnode

import (
	"fmt"
	"strings"
	"time"

	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

type confirmDecision int

const (
	confirmAmbiguous confirmDecision = iota
	confirmAffirmed
	confirmDeclined
)

var affirmWords = map[string]struct{}{
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
	"confirm": {}, "confirmed": {}, "correct": {}, "ok": {}, "okay": {},
	"please": {}, "go ahead": {}, "book it": {}, "do it": {}, "sounds good": {},
}

var declineWords = map[string]struct{}{
	"no": {}, "n": {}, "nope": {}, "nah": {},
	"don't": {}, "do not": {}, "never mind": {}, "nevermind": {}, "forget it": {},
}

// parseConfirmation reads a confirming-phase reply lexically. Anything that is
// neither a clear yes nor a clear no stays ambiguous and gets re-asked.
func parseConfirmation(utterance string) confirmDecision {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	normalized = strings.Trim(normalized, ".!?, ")

	affirmed := matchesAny(normalized, affirmWords)
	declined := matchesAny(normalized, declineWords)
	switch {
	case affirmed && !declined:
		return confirmAffirmed
	case declined && !affirmed:
		return confirmDeclined
	default:
		return confirmAmbiguous
	}
}

func matchesAny(normalized string, words map[string]struct{}) bool {
	if _, ok := words[normalized]; ok {
		return true
	}
	for word := range words {
		if strings.Contains(" "+normalized+" ", " "+word+" ") {
			return true
		}
	}
	return false
}

// pickCandidate maps an ordinal reply ("the first one", "option 2") onto a
// previously offered alternative.
func pickCandidate(utterance string, candidates []statex.TimeWindow) (statex.TimeWindow, bool) {
	if len(candidates) == 0 {
		return statex.TimeWindow{}, false
	}
	normalized := strings.ToLower(utterance)
	ordinals := []struct {
		words []string
		index int
	}{
		{[]string{"first", "option 1", "number 1", "1st"}, 0},
		{[]string{"second", "option 2", "number 2", "2nd"}, 1},
		{[]string{"third", "option 3", "number 3", "3rd"}, 2},
	}
	for _, o := range ordinals {
		if o.index >= len(candidates) {
			continue
		}
		for _, w := range o.words {
			if strings.Contains(normalized, w) {
				return candidates[o.index], true
			}
		}
	}
	return statex.TimeWindow{}, false
}

func clarificationQuestion(slot statex.SlotName) string {
	switch slot {
	case statex.SlotDate:
		return "What date should I schedule it for?"
	case statex.SlotTime:
		return "What time works for you?"
	case statex.SlotDuration:
		return "How long should it be?"
	case statex.SlotAttendees:
		return "Who should I invite?"
	case statex.SlotAppointmentRef:
		return "Which appointment do you mean?"
	default:
		return "Could you tell me more about when you'd like to meet?"
	}
}

func confirmationQuestion(intent statex.IntentType, window *statex.TimeWindow, reference string) string {
	switch intent {
	case statex.IntentCancel:
		if reference != "" {
			return fmt.Sprintf("Just to confirm: cancel %s?", reference)
		}
		return "Just to confirm: cancel your appointment?"
	case statex.IntentReschedule:
		return fmt.Sprintf("Just to confirm: move your appointment to %s?", formatWindow(window))
	default:
		return fmt.Sprintf("Just to confirm: book %s?", formatWindow(window))
	}
}

func formatWindow(w *statex.TimeWindow) string {
	if w == nil {
		return "the requested time"
	}
	loc := w.Location()
	start := w.Start.In(loc)
	minutes := int(w.Duration().Minutes())
	return fmt.Sprintf("%s for %d minutes", start.Format("Monday, January 2 at 3:04 PM"), minutes)
}

func formatCandidates(candidates []statex.TimeWindow) string {
	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%d) %s", i+1, formatWindow(&c))
	}
	return b.String()
}

func splitAttendees(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	attendees := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			attendees = append(attendees, trimmed)
		}
	}
	return attendees
}

// temporalExpression joins the temporal slots back into one phrase for the
// normalizer.
func temporalExpression(slots map[statex.SlotName]string) string {
	var parts []string
	for _, name := range []statex.SlotName{statex.SlotDate, statex.SlotTime, statex.SlotDuration, statex.SlotTimezone} {
		if v, ok := slots[name]; ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " ")
}

func horizonWindow(from time.Time, horizon time.Duration, tz string) statex.TimeWindow {
	return statex.TimeWindow{Start: from, End: from.Add(horizon), Timezone: tz}
}
