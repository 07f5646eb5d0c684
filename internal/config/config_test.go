package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, time.Hour, cfg.ConversationTTL)
	assert.Equal(t, 1000, cfg.MaxConversations)
	assert.Equal(t, 10, cfg.ContextWindow)
	assert.Equal(t, 20, cfg.ContextWindowAfterTools)
	assert.Equal(t, 20, cfg.HistoryCap)
	assert.Equal(t, 30, cfg.HistoryCapWithTools)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, 3, cfg.SendMaxRetries)
	assert.Equal(t, time.Second, cfg.SendBackoffBase)
	assert.Equal(t, float32(0.7), cfg.Temperature)
	assert.Equal(t, 2000, cfg.MaxTokens)
	assert.Equal(t, ModeLocal, cfg.DeploymentMode())
}

func TestLoad_ListsAndOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ENABLED_TOOL_PREFIXES", "im.v1,docx.v1")
	t.Setenv("DISABLED_TOOLS", "im.v1.message.delete")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CONTEXT_WINDOW", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"im.v1", "docx.v1"}, cfg.EnabledToolPrefixes)
	assert.Equal(t, []string{"im.v1.message.delete"}, cfg.DisabledTools)
	assert.Equal(t, 6, cfg.ContextWindow)
	assert.Equal(t, ModeShared, cfg.DeploymentMode())

	cfg.StoreBackend = "memory"
	assert.Equal(t, ModeLocal, cfg.DeploymentMode())
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing openai key", map[string]string{}, "OpenAIAPIKey"},
		{"bad provider", map[string]string{"OPENAI_API_KEY": "k", "LLM_PROVIDER": "claude"}, "LLMProvider"},
		{"yandex needs folder", map[string]string{"LLM_PROVIDER": "yandex", "YANDEX_OAUTH_TOKEN": "t"}, "YandexFolderID"},
		{"zero retries", map[string]string{"OPENAI_API_KEY": "k", "SEND_MAX_RETRIES": "0"}, "SendMaxRetries"},
		{"cap below base cap", map[string]string{"OPENAI_API_KEY": "k", "HISTORY_CAP_WITH_TOOLS": "5"}, "HistoryCapWithTools"},
		{"bad cron", map[string]string{"OPENAI_API_KEY": "k", "CLEANUP_SCHEDULE": "every now and then"}, "CleanupSchedule"},
		{"bad backend", map[string]string{"OPENAI_API_KEY": "k", "STORE_BACKEND": "etcd"}, "StoreBackend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/prompts/system.txt", []byte("  Be brief.\n"), 0o644))

	cfg := &Config{}
	p, err := cfg.SystemPrompt(fs)
	require.NoError(t, err)
	assert.Empty(t, p)

	cfg.SystemPromptPath = "/prompts/missing.txt"
	p, err = cfg.SystemPrompt(fs)
	require.NoError(t, err)
	assert.Empty(t, p)

	cfg.SystemPromptPath = "/prompts/system.txt"
	p, err = cfg.SystemPrompt(fs)
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", p)
}
