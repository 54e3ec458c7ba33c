package gemini

import (
	"context"
	"strings"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/turns"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-pro"

type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int32
}

// Generator sends the flattened prompt as a single user message, which is
// how the gemini-pro deployments are prompted.
type Generator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ backends.Generator = (*Generator)(nil)

func NewGenerator(ctx context.Context, s Settings) (*Generator, error) {
	if s.APIKey == "" {
		return nil, errors.New("missing gemini API key")
	}
	opts := []option.ClientOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}

	name := s.Model
	if name == "" {
		name = DefaultModel
	}
	model := client.GenerativeModel(name)
	if s.Temperature > 0 {
		model.SetTemperature(s.Temperature)
	}
	if s.TopP > 0 {
		model.SetTopP(s.TopP)
	}
	if s.MaxTokens > 0 {
		model.SetMaxOutputTokens(s.MaxTokens)
	}

	return &Generator{client: client, model: model, name: name}, nil
}

func (g *Generator) Generate(ctx context.Context, p turns.Prompt) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(p.Flatten()))
	if err != nil {
		return "", asStatusError(err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.Errorf("gemini model %s returned no text", g.name)
	}
	return text, nil
}

func (g *Generator) Close() error {
	if err := g.client.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close gemini client")
		return err
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

type httpCoder interface {
	HTTPCode() int
}

func asStatusError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code != 0 {
		return &retry.StatusError{Code: gerr.Code, Detail: gerr.Message}
	}
	var hc httpCoder
	if errors.As(err, &hc) && hc.HTTPCode() > 0 {
		return &retry.StatusError{Code: hc.HTTPCode(), Detail: err.Error()}
	}
	return err
}
