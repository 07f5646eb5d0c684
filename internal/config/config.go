package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const (
	ModeShared = "shared"
	ModeLocal  = "local"
)

type Config struct {
	// LLM settings
	LLMProvider      string  `env:"LLM_PROVIDER" envDefault:"openai" validate:"oneof=openai yandex"`
	OpenAIAPIKey     string  `env:"OPENAI_API_KEY" validate:"required_if=LLMProvider openai"`
	OpenAIBaseURL    string  `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	OpenAIModel      string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Temperature      float32 `env:"LLM_TEMPERATURE" envDefault:"0.7" validate:"gte=0,lte=2"`
	MaxTokens        int     `env:"LLM_MAX_TOKENS" envDefault:"2000" validate:"gt=0"`
	YandexOAuthToken string  `env:"YANDEX_OAUTH_TOKEN" validate:"required_if=LLMProvider yandex"`
	YandexFolderID   string  `env:"YANDEX_FOLDER_ID" validate:"required_if=LLMProvider yandex"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Chat platforms
	LarkAppID             string `env:"LARK_APP_ID"`
	LarkAppSecret         string `env:"LARK_APP_SECRET"`
	LarkVerificationToken string `env:"LARK_VERIFICATION_TOKEN"`
	LarkEncryptKey        string `env:"LARK_ENCRYPT_KEY"`
	LarkBaseURL           string `env:"LARK_BASE_URL" validate:"omitempty,url"`
	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN"`
	ListenAddr            string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Tools
	MCPServerCommand    string   `env:"MCP_SERVER_COMMAND"`
	EnabledToolPrefixes []string `env:"ENABLED_TOOL_PREFIXES" envSeparator:","`
	DisabledTools       []string `env:"DISABLED_TOOLS" envSeparator:","`

	// Conversations
	ConversationTTL         time.Duration `env:"CONVERSATION_TTL" envDefault:"1h" validate:"gt=0"`
	MaxConversations        int           `env:"MAX_CONVERSATIONS" envDefault:"1000" validate:"gte=0"`
	ContextWindow           int           `env:"CONTEXT_WINDOW" envDefault:"10" validate:"gt=0"`
	ContextWindowAfterTools int           `env:"CONTEXT_WINDOW_AFTER_TOOLS" envDefault:"20" validate:"gt=0"`
	HistoryCap              int           `env:"HISTORY_CAP" envDefault:"20" validate:"gt=0"`
	HistoryCapWithTools     int           `env:"HISTORY_CAP_WITH_TOOLS" envDefault:"30" validate:"gtefield=HistoryCap"`
	DedupWindow             time.Duration `env:"DEDUP_WINDOW" envDefault:"5m" validate:"gt=0"`
	CleanupSchedule         string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 10m" validate:"omitempty,cron_spec"`

	// Delivery
	SendMaxRetries  int           `env:"SEND_MAX_RETRIES" envDefault:"3" validate:"gte=1,lte=10"`
	SendBackoffBase time.Duration `env:"SEND_BACKOFF_BASE" envDefault:"1s" validate:"gte=0"`

	// Storage
	StoreBackend       string `env:"STORE_BACKEND" envDefault:"auto" validate:"oneof=auto memory redis sqlite"`
	RedisURL           string `env:"REDIS_URL"`
	RedisKeyPrefix     string `env:"REDIS_KEY_PREFIX" envDefault:"lark-mcp-bot:"`
	SQLitePath         string `env:"SQLITE_PATH"`
	InteractionLogPath string `env:"INTERACTION_LOG_PATH"`

	// Access
	AllowedUsers      []string `env:"ALLOWED_USERS" envSeparator:","`
	AllowlistFilePath string   `env:"ALLOWLIST_FILE_PATH"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field string
	Tag   string
	Value any
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %s: failed on %q (value %v)", e.Field, e.Tag, e.Value)
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("cron_spec", validateCronSpec); err != nil {
		return err
	}
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return ValidationError{Field: e.Field(), Tag: e.Tag(), Value: e.Value()}
	}
	return err
}

func validateCronSpec(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

// DeploymentMode is "shared" when state lives in redis and can back several instances,
// "local" otherwise.
func (c *Config) DeploymentMode() string {
	switch c.StoreBackend {
	case "memory", "sqlite":
		return ModeLocal
	}
	if c.RedisURL != "" {
		return ModeShared
	}
	return ModeLocal
}

// LarkEnabled reports whether the Lark credentials are present.
func (c *Config) LarkEnabled() bool {
	return c.LarkAppID != "" && c.LarkAppSecret != ""
}

// SystemPrompt reads the override file. A missing path or file yields "".
func (c *Config) SystemPrompt(fs afero.Fs) (string, error) {
	if c.SystemPromptPath == "" {
		return "", nil
	}
	data, err := afero.ReadFile(fs, c.SystemPromptPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
