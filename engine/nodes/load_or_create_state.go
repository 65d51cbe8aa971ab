package turnnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

func LoadOrCreateState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	accountID string,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	conv, err := loadOrCreateConversation(ctx, store, in.ConversationID, accountID, in.Now)
	if err != nil {
		return nil, err
	}
	in.Conversation = conv
	return in, nil
}

func loadOrCreateConversation(
	ctx context.Context,
	store statex.Store,
	conversationID string,
	accountID string,
	now time.Time,
) (*statex.Conversation, error) {
	conv, err := store.Load(ctx, conversationID)
	if err == nil {
		conv.State.EnsureSlotsMap()
		return conv, nil
	}
	if !errors.Is(err, statex.ErrConversationNotFound) {
		return nil, err
	}

	return statex.NewConversation(conversationID, accountID, now), nil
}
