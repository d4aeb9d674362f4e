package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agent-forge/core/pkg/coreerrors"
)

// AnthropicProvider completes via the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	name   string
}

// NewAnthropicProvider constructs a Provider backed by apiKey.
func NewAnthropicProvider(name, apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), name: name}
}

func (p *AnthropicProvider) Name() string { return p.name }

// Complete sends messages to the Anthropic Messages API. A system message
// (if present) is lifted into the request's top-level System field, since
// Anthropic does not accept a system role inside the message list.
func (p *AnthropicProvider) Complete(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (Result, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    turns,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: anthropic: %v", coreerrors.ErrLLMUnavailable, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Result{
		Text:      text,
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}, nil
}
