package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "VPRTUTOR"

// envAliases are the bare variable names the bot has always been configured with.
var envAliases = map[string]string{
	"telegram.bot_token":           "TELEGRAM_BOT_TOKEN",
	"completion.openai_api_key":    "OPENAI_API_KEY",
	"completion.anthropic_api_key": "ANTHROPIC_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. An empty configPath uses the default
// location when a file exists there, and the environment alone otherwise.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile sets the dotenv file read before the environment. Empty disables it.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads the dotenv file, the config file and the environment, in that order
func (l *Loader) Load() (*Config, error) {
	if err := LoadDotEnv(l.envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", alias, err)
		}
	}

	configPath, explicit := l.resolvePath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Completion.Provider = strings.ToLower(strings.TrimSpace(cfg.Completion.Provider))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	return cfg, nil
}

func (l *Loader) resolvePath() (string, bool) {
	if l.configPath != "" {
		return l.configPath, true
	}
	return l.GetConfigPath(), false
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vprtutor", "vprtutor.json")
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("telegram.bot_token", cfg.Telegram.BotToken)
	v.SetDefault("telegram.api_endpoint", cfg.Telegram.APIEndpoint)
	v.SetDefault("telegram.poll_timeout_seconds", cfg.Telegram.PollTimeoutSeconds)
	v.SetDefault("telegram.dedupe_ttl_seconds", cfg.Telegram.DedupeTTLSeconds)
	v.SetDefault("telegram.debug", cfg.Telegram.Debug)

	v.SetDefault("completion.provider", cfg.Completion.Provider)
	v.SetDefault("completion.openai_api_key", cfg.Completion.OpenAIAPIKey)
	v.SetDefault("completion.anthropic_api_key", cfg.Completion.AnthropicAPIKey)
	v.SetDefault("completion.base_url", cfg.Completion.BaseURL)
	v.SetDefault("completion.model", cfg.Completion.Model)
	v.SetDefault("completion.max_tokens", cfg.Completion.MaxTokens)
	v.SetDefault("completion.temperature", cfg.Completion.Temperature)
	v.SetDefault("completion.timeout_seconds", cfg.Completion.TimeoutSeconds)
	v.SetDefault("completion.max_retries", cfg.Completion.MaxRetries)
	v.SetDefault("completion.backoff_base_ms", cfg.Completion.BackoffBaseMs)
	v.SetDefault("completion.backoff_max_ms", cfg.Completion.BackoffMaxMs)

	v.SetDefault("session.window", cfg.Session.Window)
	v.SetDefault("session.max_turns", cfg.Session.MaxTurns)
	v.SetDefault("session.idle_ttl_minutes", cfg.Session.IdleTTLMinutes)
	v.SetDefault("session.sweep_schedule", cfg.Session.SweepSchedule)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("ops.addr", cfg.Ops.Addr)
	v.SetDefault("ops.tracing", cfg.Ops.Tracing)
	v.SetDefault("ops.trace_sample_ratio", cfg.Ops.TraceSampleRatio)
}

// LoadDotEnv loads variables from a dotenv file without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
