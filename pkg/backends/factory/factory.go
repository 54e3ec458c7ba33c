package factory

import (
	"context"
	"sort"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/backends/azuresearch"
	"github.com/go-go-golems/solace/pkg/backends/did"
	"github.com/go-go-golems/solace/pkg/backends/gemini"
	"github.com/go-go-golems/solace/pkg/backends/openai"
	"github.com/go-go-golems/solace/pkg/backends/weaviate"
	"github.com/go-go-golems/solace/pkg/config"
	"github.com/pkg/errors"
)

// BackendFactory creates the collaborator clients selected by the settings.
// Generators that hold connections are closed by Close.
type BackendFactory struct {
	closers []func() error
}

func NewBackendFactory() *BackendFactory {
	return &BackendFactory{}
}

// SupportedSearchBackends returns the search.backend values CreateSearcher knows.
func SupportedSearchBackends() []string {
	ret := []string{config.SearchBackendAzure, config.SearchBackendWeaviate}
	sort.Strings(ret)
	return ret
}

// SupportedGenerationBackends returns the generation.backend values CreateGenerator knows.
func SupportedGenerationBackends() []string {
	ret := []string{
		config.GenerationBackendOpenAI,
		config.GenerationBackendAzureOpenAI,
		config.GenerationBackendGemini,
	}
	sort.Strings(ret)
	return ret
}

func (f *BackendFactory) CreateSearcher(s *config.Settings) (backends.Searcher, error) {
	switch s.Search.Backend {
	case config.SearchBackendAzure:
		searcher, err := azuresearch.NewSearcher(azuresearch.Settings{
			Endpoint: s.Search.Endpoint,
			Index:    s.Search.Index,
			APIKey:   s.Search.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return searcher, nil
	case config.SearchBackendWeaviate:
		searcher, err := weaviate.NewSearcher(weaviate.Settings{
			Endpoint:  s.Search.Endpoint,
			APIKey:    s.Search.APIKey,
			ClassName: s.Search.ClassName,
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating weaviate searcher")
		}
		return searcher, nil
	default:
		return nil, errors.Errorf("unsupported search backend %q (supported: %v)", s.Search.Backend, SupportedSearchBackends())
	}
}

func (f *BackendFactory) CreateGenerator(ctx context.Context, s *config.Settings) (backends.Generator, error) {
	g := s.Generation
	switch g.Backend {
	case config.GenerationBackendOpenAI, config.GenerationBackendAzureOpenAI:
		azure := g.Backend == config.GenerationBackendAzureOpenAI
		return openai.NewChatGenerator(
			openai.ClientConfig(g.APIKey, g.Endpoint, azure),
			g.Model,
			openai.SamplingSettings{
				Temperature:      g.Temperature,
				MaxTokens:        g.MaxTokens,
				TopP:             g.TopP,
				FrequencyPenalty: g.FrequencyPenalty,
				PresencePenalty:  g.PresencePenalty,
			},
		), nil

	case config.GenerationBackendGemini:
		gen, err := gemini.NewGenerator(ctx, gemini.Settings{
			APIKey:      g.GeminiAPIKey,
			Model:       g.GeminiModel,
			Temperature: g.Temperature,
			TopP:        g.TopP,
			MaxTokens:   int32(g.MaxTokens),
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating gemini generator")
		}
		f.closers = append(f.closers, gen.Close)
		return gen, nil

	default:
		return nil, errors.Errorf("unsupported generation backend %q (supported: %v)", g.Backend, SupportedGenerationBackends())
	}
}

// CreateTranscriber uses Whisper through the OpenAI API.
func (f *BackendFactory) CreateTranscriber(s *config.Settings) (backends.Transcriber, error) {
	key := s.TranscriptionAPIKey()
	if key == "" {
		return nil, errors.New("transcription needs an API key (transcription.api-key or generation.api-key)")
	}
	opts := []openai.TranscriptionOption{openai.WithTranscriptionModel(s.Transcription.Model)}
	if s.Transcription.Language != "" {
		opts = append(opts, openai.WithLanguage(s.Transcription.Language))
	}
	return openai.NewTranscriptionClient(openai.ClientConfig(key, s.Transcription.Endpoint, false), opts...), nil
}

func (f *BackendFactory) CreateRenderer(s *config.Settings) (backends.Renderer, error) {
	if s.Render.APIKey == "" {
		return nil, errors.New("rendering needs render.api-key")
	}
	return did.NewClient(s.Render.APIKey, did.WithEndpoint(s.Render.Endpoint)), nil
}

func (f *BackendFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
