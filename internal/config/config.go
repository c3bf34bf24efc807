package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
)

// Config represents the vprtutor configuration
type Config struct {
	Telegram   TelegramConfig   `json:"telegram" mapstructure:"telegram"`
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`
	Session    SessionConfig    `json:"session" mapstructure:"session"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Ops        OpsConfig        `json:"ops" mapstructure:"ops"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `json:"bot_token" mapstructure:"bot_token"`

	// APIEndpoint is a format string taking the token and the method name.
	APIEndpoint string `json:"api_endpoint" mapstructure:"api_endpoint"`

	PollTimeoutSeconds int  `json:"poll_timeout_seconds" mapstructure:"poll_timeout_seconds"`
	DedupeTTLSeconds   int  `json:"dedupe_ttl_seconds" mapstructure:"dedupe_ttl_seconds"`
	Debug              bool `json:"debug" mapstructure:"debug"`
}

// CompletionConfig selects the completion provider and its request parameters
type CompletionConfig struct {
	Provider        string `json:"provider" mapstructure:"provider"` // openai, anthropic
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	BaseURL         string `json:"base_url" mapstructure:"base_url"`

	// Model falls back to the provider default when empty.
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries     int `json:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs  int `json:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxMs   int `json:"backoff_max_ms" mapstructure:"backoff_max_ms"`
}

// SessionConfig holds conversation history limits
type SessionConfig struct {
	Window   int `json:"window" mapstructure:"window"`
	MaxTurns int `json:"max_turns" mapstructure:"max_turns"` // 0 keeps everything

	// IdleTTLMinutes enables the idle sweeper when positive.
	IdleTTLMinutes int    `json:"idle_ttl_minutes" mapstructure:"idle_ttl_minutes"`
	SweepSchedule  string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// OpsConfig holds the health and metrics listener
type OpsConfig struct {
	Addr    string `json:"addr" mapstructure:"addr"` // empty disables the listener
	Tracing bool   `json:"tracing" mapstructure:"tracing"`

	// TraceSampleRatio is the fraction of root spans kept when Tracing is on.
	TraceSampleRatio float64 `json:"trace_sample_ratio" mapstructure:"trace_sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIEndpoint:        "https://api.telegram.org/bot%s/%s",
			PollTimeoutSeconds: 30,
			DedupeTTLSeconds:   300,
		},
		Completion: CompletionConfig{
			Provider:       ProviderOpenAI,
			MaxTokens:      250,
			Temperature:    0.7,
			TimeoutSeconds: 30,
			MaxRetries:     2,
			BackoffBaseMs:  1000,
			BackoffMaxMs:   8000,
		},
		Session: SessionConfig{
			Window:         6,
			MaxTurns:       12,
			IdleTTLMinutes: 0,
			SweepSchedule:  "@every 10m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Ops: OpsConfig{
			TraceSampleRatio: 1,
		},
	}
}

// APIKey returns the key of the selected provider
func (c *CompletionConfig) APIKey() string {
	if c.Provider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// ModelName returns the configured model or the provider default
func (c *CompletionConfig) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	if c.Provider == ProviderAnthropic {
		return DefaultAnthropicModel
	}
	return DefaultOpenAIModel
}

func (c *CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *CompletionConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c *CompletionConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

func (c *SessionConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLMinutes) * time.Minute
}

func (c *TelegramConfig) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSeconds) * time.Second
}

// Secrets returns the configured credentials, for log redaction
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Telegram.BotToken, c.Completion.OpenAIAPIKey, c.Completion.AnthropicAPIKey} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Redacted returns a copy with credentials masked
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Telegram.BotToken = maskSecret(c.Telegram.BotToken)
	cp.Completion.OpenAIAPIKey = maskSecret(c.Completion.OpenAIAPIKey)
	cp.Completion.AnthropicAPIKey = maskSecret(c.Completion.AnthropicAPIKey)
	return &cp
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Validate checks that the process can start with this configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required: set TELEGRAM_BOT_TOKEN or telegram.bot_token")
	}
	if c.Telegram.PollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram poll_timeout_seconds must be >= 0")
	}
	if c.Telegram.DedupeTTLSeconds < 0 {
		return fmt.Errorf("telegram dedupe_ttl_seconds must be >= 0")
	}

	switch c.Completion.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.Completion.OpenAIAPIKey) == "" {
			return fmt.Errorf("OpenAI API key is required: set OPENAI_API_KEY or completion.openai_api_key")
		}
	case ProviderAnthropic:
		if strings.TrimSpace(c.Completion.AnthropicAPIKey) == "" {
			return fmt.Errorf("Anthropic API key is required: set ANTHROPIC_API_KEY or completion.anthropic_api_key")
		}
	default:
		return fmt.Errorf("invalid completion provider %q (must be: openai, anthropic)", c.Completion.Provider)
	}

	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion max_tokens must be positive, got %d", c.Completion.MaxTokens)
	}
	if c.Completion.TimeoutSeconds < 0 {
		return fmt.Errorf("completion timeout_seconds must be >= 0")
	}
	if c.Completion.MaxRetries < 0 {
		return fmt.Errorf("completion max_retries must be >= 0")
	}
	if c.Completion.BackoffBaseMs < 0 || c.Completion.BackoffMaxMs < 0 {
		return fmt.Errorf("completion backoff must be >= 0")
	}

	if c.Session.Window <= 0 {
		return fmt.Errorf("session window must be positive, got %d", c.Session.Window)
	}
	if c.Session.MaxTurns < 0 {
		return fmt.Errorf("session max_turns must be >= 0")
	}
	if c.Session.MaxTurns > 0 && c.Session.MaxTurns < c.Session.Window {
		return fmt.Errorf("session max_turns (%d) must not be smaller than window (%d)", c.Session.MaxTurns, c.Session.Window)
	}
	if c.Session.IdleTTLMinutes < 0 {
		return fmt.Errorf("session idle_ttl_minutes must be >= 0")
	}
	if c.Session.IdleTTLMinutes > 0 && strings.TrimSpace(c.Session.SweepSchedule) == "" {
		return fmt.Errorf("session sweep_schedule is required when idle_ttl_minutes is set")
	}

	if c.Ops.TraceSampleRatio < 0 || c.Ops.TraceSampleRatio > 1 {
		return fmt.Errorf("ops trace_sample_ratio must be between 0 and 1, got %g", c.Ops.TraceSampleRatio)
	}

	return nil
}
