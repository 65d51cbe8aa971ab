package extractor

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

type extractorLLMOutput struct {
	Intent      string                   `json:"intent"`
	Slots       map[string]slotLLMUpdate `json:"slots,omitempty"`
	Ambiguities []ambiguityLLMReport     `json:"ambiguities,omitempty"`
}

type slotLLMUpdate struct {
	Op         string  `json:"op,omitempty"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

type ambiguityLLMReport struct {
	Slot       string   `json:"slot"`
	Unresolved []string `json:"unresolved,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func compileExtractorGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, extractorLLMOutput], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[extractorLLMOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, extractorLLMOutput]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add extractor prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add extractor model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add extractor parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add extractor edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add extractor edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add extractor edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add extractor edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("extractor.model_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile extractor graph: %w", err)
	}
	return runner, nil
}
