package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// SaveState validates and persists the conversation. A terminal phase is
// reported to the caller but stored as idle so the next turn starts a fresh
// intent against the same history.
func SaveState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}

	in.Conversation.Touch(in.Now)

	// Keep the terminal phase visible in this turn's output before resetting.
	in.FinalPhase = in.Conversation.State.Phase
	if in.Conversation.State.Phase.Terminal() {
		in.Conversation.State.Reset()
	}

	if err := in.Conversation.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Conversation); err != nil {
		return nil, err
	}
	return in, nil
}
