package openai

import (
	"context"
	"strings"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// SamplingSettings are fixed per deployment and never user-tunable.
type SamplingSettings struct {
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

func DefaultSamplingSettings() SamplingSettings {
	return SamplingSettings{
		Temperature: 0.7,
		MaxTokens:   300,
		TopP:        0.95,
	}
}

type ChatGenerator struct {
	client   *openai.Client
	model    string
	sampling SamplingSettings
}

var _ backends.Generator = (*ChatGenerator)(nil)

func NewChatGenerator(config openai.ClientConfig, model string, sampling SamplingSettings) *ChatGenerator {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &ChatGenerator{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		sampling: sampling,
	}
}

// ClientConfig builds the go-openai configuration. With azure set, baseURL is
// the resource endpoint and the model name is used as deployment name.
func ClientConfig(apiKey string, baseURL string, azure bool) openai.ClientConfig {
	if azure {
		return openai.DefaultAzureConfig(apiKey, baseURL)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return config
}

func (g *ChatGenerator) Generate(ctx context.Context, p turns.Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	req := openai.ChatCompletionRequest{
		Model:            g.model,
		Messages:         messages,
		Temperature:      g.sampling.Temperature,
		MaxTokens:        g.sampling.MaxTokens,
		TopP:             g.sampling.TopP,
		FrequencyPenalty: g.sampling.FrequencyPenalty,
		PresencePenalty:  g.sampling.PresencePenalty,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", asStatusError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat completion finished")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// asStatusError converts go-openai's HTTP errors into *retry.StatusError,
// keeping the downstream message as detail. Other errors pass through.
func asStatusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: apiErr.HTTPStatusCode, Detail: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return &retry.StatusError{Code: reqErr.HTTPStatusCode, Detail: detail}
	}
	return err
}
