// Package config loads the deployment settings from flags, environment,
// config files and a .env file.
package config

import (
	"time"

	"github.com/go-go-golems/solace/pkg/security"
	"github.com/go-go-golems/solace/pkg/session"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	SearchBackendAzure    = "azure"
	SearchBackendWeaviate = "weaviate"

	GenerationBackendOpenAI      = "openai"
	GenerationBackendAzureOpenAI = "azure-openai"
	GenerationBackendGemini      = "gemini"
)

type Settings struct {
	Server        ServerSettings        `mapstructure:"server" yaml:"server"`
	RateLimit     RateLimitSettings     `mapstructure:"rate-limit" yaml:"rate-limit"`
	Search        SearchSettings        `mapstructure:"search" yaml:"search"`
	Generation    GenerationSettings    `mapstructure:"generation" yaml:"generation"`
	Transcription TranscriptionSettings `mapstructure:"transcription" yaml:"transcription"`
	Render        RenderSettings        `mapstructure:"render" yaml:"render"`
	Session       SessionSettings       `mapstructure:"session" yaml:"session"`
	Security      SecuritySettings      `mapstructure:"security" yaml:"security"`
}

type ServerSettings struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	AllowedOrigins    []string      `mapstructure:"allowed-origins" yaml:"allowed-origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout" yaml:"read-header-timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`
	// AuditLog publishes every turn event on the in-process event router.
	AuditLog bool `mapstructure:"audit-log" yaml:"audit-log"`
}

type RateLimitSettings struct {
	RequestsPerMinute int `mapstructure:"requests-per-minute" yaml:"requests-per-minute"`
}

type SearchSettings struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Index     string `mapstructure:"index" yaml:"index"`
	APIKey    string `mapstructure:"api-key" yaml:"api-key"`
	ClassName string `mapstructure:"class-name" yaml:"class-name"`
	TopK      int    `mapstructure:"top-k" yaml:"top-k"`
	// HTTPTopK is the number of documents the stateless endpoint retrieves.
	HTTPTopK           int `mapstructure:"http-top-k" yaml:"http-top-k"`
	ContextTokenBudget int `mapstructure:"context-token-budget" yaml:"context-token-budget"`
}

type GenerationSettings struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	APIKey           string        `mapstructure:"api-key" yaml:"api-key"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model            string        `mapstructure:"model" yaml:"model"`
	GeminiAPIKey     string        `mapstructure:"gemini-api-key" yaml:"gemini-api-key"`
	GeminiModel      string        `mapstructure:"gemini-model" yaml:"gemini-model"`
	Temperature      float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens        int           `mapstructure:"max-tokens" yaml:"max-tokens"`
	TopP             float32       `mapstructure:"top-p" yaml:"top-p"`
	FrequencyPenalty float32       `mapstructure:"frequency-penalty" yaml:"frequency-penalty"`
	PresencePenalty  float32       `mapstructure:"presence-penalty" yaml:"presence-penalty"`
	Attempts         int           `mapstructure:"attempts" yaml:"attempts"`
	AttemptTimeout   time.Duration `mapstructure:"attempt-timeout" yaml:"attempt-timeout"`
	RateLimitDelay   time.Duration `mapstructure:"rate-limit-delay" yaml:"rate-limit-delay"`
}

type TranscriptionSettings struct {
	// APIKey defaults to the generation key when empty.
	APIKey   string `mapstructure:"api-key" yaml:"api-key"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
	Language string `mapstructure:"language" yaml:"language"`
}

type RenderSettings struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey        string        `mapstructure:"api-key" yaml:"api-key"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	VoiceProvider string        `mapstructure:"voice-provider" yaml:"voice-provider"`
	VoiceID       string        `mapstructure:"voice-id" yaml:"voice-id"`
	SourceURL     string        `mapstructure:"source-url" yaml:"source-url"`
	PollInterval  time.Duration `mapstructure:"poll-interval" yaml:"poll-interval"`
	PollAttempts  int           `mapstructure:"poll-attempts" yaml:"poll-attempts"`
}

type SessionSettings struct {
	OnTurnError       string `mapstructure:"on-turn-error" yaml:"on-turn-error"`
	AvatarOnTurnError string `mapstructure:"avatar-on-turn-error" yaml:"avatar-on-turn-error"`
	Partials          bool   `mapstructure:"partials" yaml:"partials"`
}

type SecuritySettings struct {
	AllowHTTP          bool `mapstructure:"allow-http" yaml:"allow-http"`
	AllowLocalNetworks bool `mapstructure:"allow-local-networks" yaml:"allow-local-networks"`
}

func (s *Settings) OutboundURLOptions() security.OutboundURLOptions {
	return security.OutboundURLOptions{
		AllowHTTP:          s.Security.AllowHTTP,
		AllowLocalNetworks: s.Security.AllowLocalNetworks,
	}
}

// TranscriptionAPIKey is the key used for Whisper requests.
func (s *Settings) TranscriptionAPIKey() string {
	if s.Transcription.APIKey != "" {
		return s.Transcription.APIKey
	}
	return s.Generation.APIKey
}

// Validate checks that the selected backends are fully configured and that
// every collaborator endpoint is an acceptable outbound target.
func (s *Settings) Validate() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch s.Search.Backend {
	case SearchBackendAzure:
		require("search.endpoint", s.Search.Endpoint)
		require("search.index", s.Search.Index)
		require("search.api-key", s.Search.APIKey)
	case SearchBackendWeaviate:
		require("search.endpoint", s.Search.Endpoint)
		require("search.class-name", s.Search.ClassName)
	default:
		return errors.Errorf("unknown search backend %q", s.Search.Backend)
	}

	switch s.Generation.Backend {
	case GenerationBackendOpenAI:
		require("generation.api-key", s.Generation.APIKey)
	case GenerationBackendAzureOpenAI:
		require("generation.api-key", s.Generation.APIKey)
		require("generation.endpoint", s.Generation.Endpoint)
		require("generation.model", s.Generation.Model)
	case GenerationBackendGemini:
		require("generation.gemini-api-key", s.Generation.GeminiAPIKey)
	default:
		return errors.Errorf("unknown generation backend %q", s.Generation.Backend)
	}

	if s.Render.Enabled {
		require("render.api-key", s.Render.APIKey)
	}

	if len(missing) > 0 {
		return errors.Errorf("missing required settings: %v", missing)
	}

	if s.RateLimit.RequestsPerMinute < 1 {
		return errors.New("rate-limit.requests-per-minute must be at least 1")
	}
	if _, err := session.ParseOnTurnError(s.Session.OnTurnError); err != nil {
		return errors.Wrap(err, "session.on-turn-error")
	}
	if _, err := session.ParseOnTurnError(s.Session.AvatarOnTurnError); err != nil {
		return errors.Wrap(err, "session.avatar-on-turn-error")
	}

	endpoints := map[string]string{
		"search.endpoint":        s.Search.Endpoint,
		"generation.endpoint":    s.Generation.Endpoint,
		"transcription.endpoint": s.Transcription.Endpoint,
	}
	if s.Render.Enabled {
		endpoints["render.endpoint"] = s.Render.Endpoint
		endpoints["render.source-url"] = s.Render.SourceURL
	}
	return security.ValidateEndpoints(endpoints, s.OutboundURLOptions())
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// ForHTTP derives the settings of the stateless endpoint.
func (s *Settings) ForHTTP() *Settings {
	ret := s.Clone()
	if ret.Search.HTTPTopK > 0 {
		ret.Search.TopK = ret.Search.HTTPTopK
	}
	return ret
}

const redacted = "********"

// Redacted returns a copy with every secret masked.
func (s *Settings) Redacted() *Settings {
	ret := s.Clone()
	for _, secret := range []*string{
		&ret.Search.APIKey,
		&ret.Generation.APIKey,
		&ret.Generation.GeminiAPIKey,
		&ret.Transcription.APIKey,
		&ret.Render.APIKey,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return ret
}

// YAML renders the settings with secrets masked.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s.Redacted())
}
