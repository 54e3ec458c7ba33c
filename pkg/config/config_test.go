package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) *Settings {
	t.Helper()
	v := viper.New()
	require.NoError(t, Configure(v))
	s, err := Load(v)
	require.NoError(t, err)
	return s
}

func validSettings(t *testing.T) *Settings {
	s := load(t)
	s.Search.Endpoint = "https://kb.search.windows.net"
	s.Search.Index = "mental-health"
	s.Search.APIKey = "search-secret"
	s.Generation.APIKey = "openai-secret"
	s.Generation.Endpoint = "https://kb.openai.azure.com"
	return s
}

func TestDefaults(t *testing.T) {
	s := load(t)
	assert.Equal(t, 150, s.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, s.Search.TopK)
	assert.Equal(t, 1, s.Search.HTTPTopK)
	assert.InDelta(t, 0.7, s.Generation.Temperature, 1e-6)
	assert.Equal(t, 300, s.Generation.MaxTokens)
	assert.InDelta(t, 0.95, s.Generation.TopP, 1e-6)
	assert.Equal(t, 3, s.Generation.Attempts)
	assert.Equal(t, 10*time.Second, s.Generation.AttemptTimeout)
	assert.Equal(t, time.Second, s.Generation.RateLimitDelay)
	assert.Equal(t, time.Second, s.Render.PollInterval)
	assert.Equal(t, 10, s.Render.PollAttempts)
	assert.Equal(t, "en-US-SaraNeural", s.Render.VoiceID)
	assert.Equal(t, "continue", s.Session.OnTurnError)
	assert.Equal(t, "terminate", s.Session.AvatarOnTurnError)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "SOLACE_RATE_LIMIT_REQUESTS_PER_MINUTE", EnvName("rate-limit.requests-per-minute"))
	assert.Equal(t, "SOLACE_SEARCH_HTTP_TOP_K", EnvName("search.http-top-k"))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SOLACE_RATE_LIMIT_REQUESTS_PER_MINUTE", "60")
	t.Setenv("SOLACE_GENERATION_ATTEMPT_TIMEOUT", "5s")
	t.Setenv("SEARCH_ENDPOINT", "https://legacy.search.windows.net")
	t.Setenv("INDEX_NAME", "legacy-index")
	t.Setenv("DID_API_KEY", "did-secret")
	t.Setenv("SOLACE_SERVER_ALLOWED_ORIGINS", "https://*.example.com,https://app.test")

	s := load(t)
	assert.Equal(t, 60, s.RateLimit.RequestsPerMinute)
	assert.Equal(t, 5*time.Second, s.Generation.AttemptTimeout)
	assert.Equal(t, "https://legacy.search.windows.net", s.Search.Endpoint)
	assert.Equal(t, "legacy-index", s.Search.Index)
	assert.Equal(t, "did-secret", s.Render.APIKey)
	assert.Equal(t, []string{"https://*.example.com", "https://app.test"}, s.Server.AllowedOrigins)
}

func TestPrefixedNameWinsOverLegacy(t *testing.T) {
	t.Setenv("SEARCH_KEY", "legacy")
	t.Setenv("SOLACE_SEARCH_API_KEY", "prefixed")
	assert.Equal(t, "prefixed", load(t).Search.APIKey)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  backend: weaviate
  endpoint: https://kb.weaviate.network
  class-name: Article
session:
  partials: true
`), 0o600))

	v := viper.New()
	require.NoError(t, Configure(v))
	require.NoError(t, ReadConfigFile(v, path))
	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, SearchBackendWeaviate, s.Search.Backend)
	assert.Equal(t, "Article", s.Search.ClassName)
	assert.True(t, s.Session.Partials)
	assert.Equal(t, 3, s.Search.TopK)
}

func TestLoadDotEnv(t *testing.T) {
	const fresh = "SOLACE_TEST_DOTENV_FRESH"
	const preset = "SOLACE_TEST_DOTENV_PRESET"
	t.Setenv(preset, "from-env")
	t.Cleanup(func() { _ = os.Unsetenv(fresh) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(fresh+"=from-file\n"+preset+"=from-file\n"), 0o600))
	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "from-file", os.Getenv(fresh))
	assert.Equal(t, "from-env", os.Getenv(preset))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validSettings(t).Validate())

	s := validSettings(t)
	s.Search.APIKey = ""
	s.Generation.Endpoint = ""
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.api-key")
	assert.Contains(t, err.Error(), "generation.endpoint")

	s = validSettings(t)
	s.Search.Endpoint = "http://10.0.0.3:9200"
	assert.Error(t, s.Validate())
	s.Security.AllowHTTP = true
	s.Security.AllowLocalNetworks = true
	assert.NoError(t, s.Validate())

	s = validSettings(t)
	s.Render.Enabled = true
	assert.Error(t, s.Validate())
	s.Render.APIKey = "did"
	assert.NoError(t, s.Validate())

	s = validSettings(t)
	s.Session.OnTurnError = "explode"
	assert.Error(t, s.Validate())

	s = validSettings(t)
	s.Generation.Backend = "llama"
	assert.Error(t, s.Validate())
}

func TestCloneAndForHTTP(t *testing.T) {
	s := validSettings(t)
	h := s.ForHTTP()
	assert.Equal(t, 1, h.Search.TopK)
	assert.Equal(t, 3, s.Search.TopK)

	c := s.Clone()
	c.Server.AllowedOrigins[0] = "https://changed"
	assert.Equal(t, "*", s.Server.AllowedOrigins[0])
}

func TestYAMLRedactsSecrets(t *testing.T) {
	s := validSettings(t)
	b, err := s.YAML()
	require.NoError(t, err)
	out := string(b)
	assert.NotContains(t, out, "search-secret")
	assert.NotContains(t, out, "openai-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "requests-per-minute: 150")
	assert.Equal(t, "search-secret", s.Search.APIKey)
}
