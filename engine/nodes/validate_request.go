package turnnode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

var (
	ErrInvalidUtterance    = errors.New("utterance is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

type GraphInput struct {
	ConversationID string
	Utterance      string
	UserTimezone   string
}

type GraphOutput struct {
	Response    string
	Phase       statex.Phase
	Appointment *contractx.AppointmentRecord
}

// GraphState threads one turn through the node chain. Response being non-empty
// means the turn's reply is decided; downstream processing nodes pass through.
type GraphState struct {
	ConversationID string
	Utterance      string
	UserTimezone   string
	Now            time.Time

	Conversation *statex.Conversation
	Extraction   contractx.ExtractResult

	// CommitReady marks a confirmed mutating intent awaiting the commit node.
	CommitReady bool

	Response    string
	Appointment *contractx.AppointmentRecord

	// FinalPhase is the phase the turn ended in, captured before a terminal
	// phase is reset for the next intent.
	FinalPhase statex.Phase
}

func (s *GraphState) replied() bool {
	return s.Response != ""
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}

	utterance := strings.TrimSpace(in.Utterance)
	if utterance == "" {
		return nil, ErrInvalidUtterance
	}

	return &GraphState{
		ConversationID: conversationID,
		Utterance:      utterance,
		UserTimezone:   strings.TrimSpace(in.UserTimezone),
		Now:            nowFn().UTC(),
	}, nil
}
