package turnnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// RecordTurn appends the completed exchange to the conversation history and
// mirrors it to the durable turn log. The turn log is best-effort; losing an
// audit row never fails the user's turn.
func RecordTurn(
	ctx context.Context,
	in *GraphState,
	turnLog statex.TurnLog,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	if in.Response == "" {
		return nil, fmt.Errorf("%w: turn produced no response", contractx.ErrValidation)
	}

	turn := in.Conversation.AppendTurn(in.Utterance, in.Response, in.Now)

	if turnLog != nil {
		if err := turnLog.AppendTurn(ctx, in.Conversation, turn); err != nil {
			log.Warn().
				Str("conversation_id", in.ConversationID).
				Int("seq", turn.Seq).
				Err(err).
				Msg("turn log append failed")
		}
	}
	return in, nil
}
