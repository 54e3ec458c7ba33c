package openai

import (
	"bytes"
	"context"
	"strings"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

type TranscriptionClient struct {
	client      *openai.Client
	model       string
	prompt      string
	language    string
	temperature float32
}

var _ backends.Transcriber = (*TranscriptionClient)(nil)

type TranscriptionOption func(*TranscriptionClient)

func WithTranscriptionModel(model string) TranscriptionOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithPrompt(prompt string) TranscriptionOption {
	return func(c *TranscriptionClient) {
		c.prompt = prompt
	}
}

func WithLanguage(language string) TranscriptionOption {
	return func(c *TranscriptionClient) {
		c.language = language
	}
}

func WithTranscriptionTemperature(temperature float32) TranscriptionOption {
	return func(c *TranscriptionClient) {
		c.temperature = temperature
	}
}

func NewTranscriptionClient(config openai.ClientConfig, opts ...TranscriptionOption) *TranscriptionClient {
	client := &TranscriptionClient{
		client:      openai.NewClientWithConfig(config),
		model:       openai.Whisper1,
		temperature: 0,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Transcribe uploads the audio from memory; the file name only tells the
// API which container format to expect.
func (tc *TranscriptionClient) Transcribe(ctx context.Context, audio []byte, encoding string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio to transcribe")
	}
	if encoding == "" {
		encoding = "wav"
	}

	req := openai.AudioRequest{
		Model:       tc.model,
		FilePath:    "audio." + strings.ToLower(encoding),
		Reader:      bytes.NewReader(audio),
		Prompt:      tc.prompt,
		Temperature: tc.temperature,
		Language:    tc.language,
		Format:      openai.AudioResponseFormatJSON,
	}

	log.Debug().
		Int("bytes", len(audio)).
		Str("encoding", encoding).
		Str("model", tc.model).
		Msg("Transcribing audio")

	resp, err := tc.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", errors.Wrap(asStatusError(err), "transcription failed")
	}

	return strings.TrimSpace(resp.Text), nil
}
