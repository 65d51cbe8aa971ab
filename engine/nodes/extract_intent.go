package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
)

func ExtractIntent(
	ctx context.Context,
	in *GraphState,
	extractor contractx.IntentExtractor,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	if in.replied() {
		return in, nil
	}

	result, err := extractor.Extract(ctx, contractx.ExtractRequest{
		Utterance:    in.Utterance,
		Prior:        &in.Conversation.State,
		Now:          in.Now,
		UserTimezone: in.UserTimezone,
	})
	if err != nil {
		return nil, err
	}

	in.Extraction = result
	return in, nil
}
