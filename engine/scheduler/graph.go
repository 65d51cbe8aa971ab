package scheduler

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	turnnode "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/nodes"
)

func (s *Scheduler) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[turnnode.GraphInput, turnnode.GraphOutput], error) {
	graph := compose.NewGraph[turnnode.GraphInput, turnnode.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in turnnode.GraphInput) (*turnnode.GraphState, error) {
			return turnnode.ValidateRequest(in, s.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_state",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.LoadOrCreateState(ctx, in, s.store, s.accountID)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_state: %w", err)
	}

	if err := graph.AddLambdaNode("extract_intent",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.ExtractIntent(ctx, in, s.extractor)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node extract_intent: %w", err)
	}

	if err := graph.AddLambdaNode("merge_intent",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.MergeIntent(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node merge_intent: %w", err)
	}

	if err := graph.AddLambdaNode("normalize_time",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.NormalizeTime(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node normalize_time: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_availability",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.ResolveAvailability(ctx, in, s.gateway, s.horizon)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_availability: %w", err)
	}

	if err := graph.AddLambdaNode("commit",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.Commit(ctx, in, s.coordinator, s.reminders)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node commit: %w", err)
	}

	if err := graph.AddLambdaNode("record_turn",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.RecordTurn(ctx, in, s.turnLog)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node record_turn: %w", err)
	}

	if err := graph.AddLambdaNode("save_state",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (*turnnode.GraphState, error) {
			return turnnode.SaveState(ctx, in, s.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_state: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *turnnode.GraphState) (turnnode.GraphOutput, error) {
			return turnnode.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_state"},
		{"load_or_create_state", "extract_intent"},
		{"extract_intent", "merge_intent"},
		{"merge_intent", "normalize_time"},
		{"normalize_time", "resolve_availability"},
		{"resolve_availability", "commit"},
		{"commit", "record_turn"},
		{"record_turn", "save_state"},
		{"save_state", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("scheduler.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile scheduler graph: %w", err)
	}
	return runner, nil
}
