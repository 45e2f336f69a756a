// ABOUTME: Anthropic-backed model client using the official SDK
// ABOUTME: Streams Messages API completions into Chunk fragments

package model

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

// AnthropicClient implements Client against the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a client for the given model id. An empty
// apiKey falls back to the SDK's environment lookup.
func NewAnthropicClient(apiKey, modelID string) *AnthropicClient {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(clientOpts...),
		model:  anthropic.Model(modelID),
	}
}

// Stream sends the request and emits text deltas as they arrive
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)

		stream := c.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case out <- Chunk{Text: delta.Text}:
					case <-ctx.Done():
						out <- Chunk{Done: true, Err: ctx.Err()}
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Chunk{Done: true, Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}
		out <- Chunk{Done: true}
	}()
	return out, nil
}

// buildMessages converts history into Anthropic message params
func buildMessages(messages []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return params
}
