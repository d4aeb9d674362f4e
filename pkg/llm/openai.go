package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agent-forge/core/pkg/coreerrors"
)

// OpenAIProvider completes via the Chat Completions API, using the SDK's
// openai.SystemMessage/UserMessage/AssistantMessage helpers to build turns.
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider constructs a Provider backed by apiKey.
func NewOpenAIProvider(name, apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), name: name}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (Result, error) {
	var turns []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			turns = append(turns, openai.SystemMessage(m.Content))
		case "assistant":
			turns = append(turns, openai.AssistantMessage(m.Content))
		default:
			turns = append(turns, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    turns,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: openai: %v", coreerrors.ErrLLMUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: openai: empty choices", coreerrors.ErrLLMUnavailable)
	}

	return Result{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}
