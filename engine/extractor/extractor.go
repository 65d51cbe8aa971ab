// Package extractor turns raw utterances into structured scheduling intents
// through a single structured-output model graph.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

type LLMExtractor struct {
	runner compose.Runnable[map[string]any, extractorLLMOutput]
}

var _ contractx.IntentExtractor = (*LLMExtractor)(nil)

func New(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*LLMExtractor, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: extractor prompt is required", contractx.ErrValidation)
	}

	runner, err := compileExtractorGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile extractor graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMExtractor{runner: runner}, nil
}

func (e *LLMExtractor) Extract(ctx context.Context, req contractx.ExtractRequest) (contractx.ExtractResult, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return contractx.ExtractResult{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"utterance":     req.Utterance,
		"dialogue":      summarizeDialogue(req.Prior),
		"now":           req.Now.UTC().Format(time.RFC3339),
		"user_timezone": req.UserTimezone,
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.ExtractResult{}, fmt.Errorf("%w: marshal extractor payload: %v", contractx.ErrValidation, err)
	}

	out, err := e.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.ExtractResult{}, fmt.Errorf("%w: extractor invoke: %v", contractx.ErrModelInvoke, err)
	}

	return validateOutput(out)
}

// validateOutput clamps the model's answer to the schema. Unknown slot names
// are a schema violation; an unrecognized intent degrades to unknown rather
// than failing the turn.
func validateOutput(out extractorLLMOutput) (contractx.ExtractResult, error) {
	result := contractx.ExtractResult{
		Intent: statex.StructuredIntent{
			Type:  normalizeIntent(out.Intent),
			Slots: make(map[statex.SlotName]statex.SlotUpdate, len(out.Slots)),
		},
	}

	for name, update := range out.Slots {
		slot := statex.SlotName(strings.TrimSpace(strings.ToLower(name)))
		if !knownSlot(slot) {
			return contractx.ExtractResult{}, fmt.Errorf("%w: unknown slot %q", contractx.ErrSchemaViolation, name)
		}

		op := statex.SlotOp(strings.TrimSpace(strings.ToLower(update.Op)))
		switch op {
		case "":
			op = statex.SlotOpSet
		case statex.SlotOpSet, statex.SlotOpLeave, statex.SlotOpCorrect:
		default:
			return contractx.ExtractResult{}, fmt.Errorf("%w: unknown slot op %q", contractx.ErrSchemaViolation, update.Op)
		}
		if op != statex.SlotOpLeave && strings.TrimSpace(update.Value) == "" {
			return contractx.ExtractResult{}, fmt.Errorf("%w: slot %q has op %q without a value", contractx.ErrSchemaViolation, slot, op)
		}

		result.Intent.Slots[slot] = statex.SlotUpdate{
			Op:         op,
			Value:      strings.TrimSpace(update.Value),
			Confidence: update.Confidence,
		}
	}

	for _, amb := range out.Ambiguities {
		slot := statex.SlotName(strings.TrimSpace(strings.ToLower(amb.Slot)))
		if !knownSlot(slot) {
			continue
		}
		report := contractx.AmbiguityReport{
			Slot:   slot,
			Reason: strings.TrimSpace(amb.Reason),
		}
		for _, u := range amb.Unresolved {
			if s := statex.SlotName(strings.TrimSpace(strings.ToLower(u))); knownSlot(s) {
				report.Unresolved = append(report.Unresolved, s)
			}
		}
		if len(report.Unresolved) == 0 {
			report.Unresolved = []statex.SlotName{slot}
		}
		result.Ambiguities = append(result.Ambiguities, report)
	}

	return result, nil
}

func normalizeIntent(raw string) statex.IntentType {
	switch statex.IntentType(strings.TrimSpace(strings.ToLower(raw))) {
	case statex.IntentCreate:
		return statex.IntentCreate
	case statex.IntentReschedule:
		return statex.IntentReschedule
	case statex.IntentCancel:
		return statex.IntentCancel
	case statex.IntentQuery:
		return statex.IntentQuery
	default:
		return statex.IntentUnknown
	}
}

func knownSlot(s statex.SlotName) bool {
	switch s {
	case statex.SlotDate, statex.SlotTime, statex.SlotDuration, statex.SlotTimezone, statex.SlotAttendees, statex.SlotAppointmentRef:
		return true
	default:
		return false
	}
}

func summarizeDialogue(st *statex.DialogueState) map[string]any {
	if st == nil {
		return map[string]any{"phase": string(statex.PhaseIdle)}
	}

	filled := make(map[string]string, len(st.FilledSlots))
	for slot, value := range st.FilledSlots {
		filled[string(slot)] = value
	}
	missing := make([]string, 0, len(st.MissingSlots))
	for _, slot := range st.MissingSlots {
		missing = append(missing, string(slot))
	}

	intent := ""
	if st.PendingIntent != nil {
		intent = string(st.PendingIntent.Type)
	}

	return map[string]any{
		"phase":         string(st.Phase),
		"intent":        intent,
		"filled_slots":  filled,
		"missing_slots": missing,
		"last_question": string(st.LastClarificationAsked),
	}
}
