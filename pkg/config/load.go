package config

import (
	"os"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "SOLACE"

// legacyEnv are the variable names of the original deployments, still honoured
// after the SOLACE_ prefixed name.
var legacyEnv = map[string][]string{
	"search.endpoint":           {"SEARCH_ENDPOINT"},
	"search.index":              {"INDEX_NAME"},
	"search.api-key":            {"SEARCH_KEY"},
	"generation.api-key":        {"OPENAI_API_KEY"},
	"generation.endpoint":       {"OPENAI_ENDPOINT"},
	"generation.gemini-api-key": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"render.api-key":            {"DID_API_KEY"},
}

var defaults = map[string]interface{}{
	"server.address":             ":8000",
	"server.allowed-origins":     []string{"*"},
	"server.read-header-timeout": 10 * time.Second,
	"server.shutdown-timeout":    15 * time.Second,
	"server.audit-log":           false,

	"rate-limit.requests-per-minute": 150,

	"search.backend":              SearchBackendAzure,
	"search.endpoint":             "",
	"search.index":                "",
	"search.api-key":              "",
	"search.class-name":           "Document",
	"search.top-k":                3,
	"search.http-top-k":           1,
	"search.context-token-budget": 0,

	"generation.backend":           GenerationBackendAzureOpenAI,
	"generation.api-key":           "",
	"generation.endpoint":          "",
	"generation.model":             "gpt-35-turbo",
	"generation.gemini-api-key":    "",
	"generation.gemini-model":      "gemini-pro",
	"generation.temperature":       0.7,
	"generation.max-tokens":        300,
	"generation.top-p":             0.95,
	"generation.frequency-penalty": 0.0,
	"generation.presence-penalty":  0.0,
	"generation.attempts":          3,
	"generation.attempt-timeout":   10 * time.Second,
	"generation.rate-limit-delay":  time.Second,

	"transcription.api-key":  "",
	"transcription.endpoint": "",
	"transcription.model":    "whisper-1",
	"transcription.language": "",

	"render.enabled":        false,
	"render.api-key":        "",
	"render.endpoint":       "https://api.d-id.com",
	"render.voice-provider": "microsoft",
	"render.voice-id":       "en-US-SaraNeural",
	"render.source-url":     "https://create-images-results.d-id.com/api_docs/assets/noelle.jpeg",
	"render.poll-interval":  time.Second,
	"render.poll-attempts":  10,

	"session.on-turn-error":        "continue",
	"session.avatar-on-turn-error": "terminate",
	"session.partials":             false,

	"security.allow-http":           false,
	"security.allow-local-networks": false,
}

// EnvName is the prefixed environment variable of a settings key, e.g.
// "rate-limit.requests-per-minute" -> SOLACE_RATE_LIMIT_REQUESTS_PER_MINUTE.
func EnvName(key string) string {
	return EnvPrefix + "_" + strcase.ToScreamingSnake(strings.ReplaceAll(key, ".", "-"))
}

// Configure registers defaults and environment bindings on v.
func Configure(v *viper.Viper) error {
	for key, value := range defaults {
		v.SetDefault(key, value)
		names := append([]string{key, EnvName(key)}, legacyEnv[key]...)
		if err := v.BindEnv(names...); err != nil {
			return errors.Wrapf(err, "binding environment for %s", key)
		}
	}
	return nil
}

// LoadDotEnv exports the variables of a .env file that are not already set in
// the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading %s", path)
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}

	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return errors.Wrapf(err, "exporting %s", name)
		}
	}
	log.Debug().Str("file", path).Int("variables", len(env.AllKeys())).Msg("Loaded .env file")
	return nil
}

// ReadConfigFile reads configPath, or searches the usual locations when it is
// empty. A missing config file is not an error.
func ReadConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.solace")
		v.AddConfigPath("/etc/solace")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(xdgConfigPath + "/solace")
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

// Load decodes the effective settings from v. It does not validate them.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decoding settings")
	}
	return s, nil
}
