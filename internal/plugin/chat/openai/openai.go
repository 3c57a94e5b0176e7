package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	registrychat "github.com/chirino/conversation-service/internal/registry/chat"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	registrychat.Register(registrychat.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrychat.ChatCompleter, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("openai chat: missing config in context")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Info("Chat: CONVERSATION_SERVICE_OPENAI_API_KEY is not set, will try unauthenticated access")
	}
	return New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ChatModelName), nil
}

// Completer calls an OpenAI compatible chat completions endpoint.
type Completer struct {
	client *openai.Client
	model  string
}

// New creates a Completer. An empty apiKey sends no Authorization header.
func New(baseURL, apiKey, model string) *Completer {
	options := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		options = append(options, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(options...)
	return &Completer{client: &client, model: model}
}

func (c *Completer) ModelName() string { return c.model }

func (c *Completer) Complete(ctx context.Context, req registrychat.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       c.model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var _ registrychat.ChatCompleter = (*Completer)(nil)
