package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoma-endo/lark-mcp-bot/internal/bot"
	"github.com/shoma-endo/lark-mcp-bot/internal/conversation"
	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
	"github.com/shoma-endo/lark-mcp-bot/internal/storage"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("MCP_SERVER_COMMAND", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("INTERACTION_LOG_PATH", filepath.Join(dir, "interactions.jsonl"))
	t.Setenv("ALLOWLIST_FILE_PATH", filepath.Join(dir, "allowlist.json"))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	dir := setupEnv(t)
	rec, err := storage.NewFileRecorder(afero.NewOsFs(), filepath.Join(dir, "interactions.jsonl"))
	require.NoError(t, err)
	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, rec.AppendInteraction(storage.Event{
		Timestamp: day, ChatID: "oc_1", UserID: "ou_1", UserMessage: "hi", AssistantResponse: "hello",
		ToolCalls: []string{"im_v1_chat_list"},
	}))

	out, err := run(t, "stats", "--date", "2024-01-15")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage for 2024-01-15:")
	assert.Contains(t, out, "- messages: 1")
	assert.Contains(t, out, "- im_v1_chat_list: 1")

	out, err = run(t, "stats", "--date", "2024-01-15", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_messages": 1`)

	_, err = run(t, "stats", "--date", "15.01.2024")
	assert.Error(t, err)
}

func TestUsersCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "everyone is allowed")

	_, err = run(t, "users", "add", "ou_2", "Bob")
	require.NoError(t, err)
	_, err = run(t, "users", "add", "ou_1")
	require.NoError(t, err)

	out, err = run(t, "users", "list")
	require.NoError(t, err)
	assert.Equal(t, "ou_1\t\nou_2\tBob\n", out)

	_, err = run(t, "users", "remove", "ou_2")
	require.NoError(t, err)
	out, err = run(t, "users", "list")
	require.NoError(t, err)
	assert.Equal(t, "ou_1\t\n", out)
}

func TestToolsCommand_NoServer(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "0 tools enabled")
}

func TestConfigErrorsSurface(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := run(t, "tools")
	assert.Error(t, err)
}

type staticLLM struct{}

func (staticLLM) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: "ok"}, nil
}

func TestRuntime_ReloadRebuildsBot(t *testing.T) {
	builds := 0
	rt := &runtime{handle: bot.NewLazy(func(context.Context) (*bot.Bot, error) {
		builds++
		return bot.New(bot.Config{}, bot.Deps{
			LLM:    staticLLM{},
			Store:  conversation.NewMemoryStore(conversation.Options{}),
			Sender: reply.SenderFunc(func(context.Context, string, string) error { return nil }),
		})
	})}
	ev := bot.Event{EventID: "evt-1"}

	rt.HandleEvent(context.Background(), ev)
	rt.HandleEvent(context.Background(), ev)
	assert.Equal(t, 1, builds)

	rt.Reload()
	rt.HandleEvent(context.Background(), ev)
	assert.Equal(t, 2, builds)
}
