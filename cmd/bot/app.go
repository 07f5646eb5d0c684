package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/shoma-endo/lark-mcp-bot/internal/auth"
	"github.com/shoma-endo/lark-mcp-bot/internal/bot"
	"github.com/shoma-endo/lark-mcp-bot/internal/config"
	"github.com/shoma-endo/lark-mcp-bot/internal/conversation"
	"github.com/shoma-endo/lark-mcp-bot/internal/dedup"
	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
	"github.com/shoma-endo/lark-mcp-bot/internal/logger"
	"github.com/shoma-endo/lark-mcp-bot/internal/mcpclient"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
	"github.com/shoma-endo/lark-mcp-bot/internal/scheduler"
	"github.com/shoma-endo/lark-mcp-bot/internal/storage"
	"github.com/shoma-endo/lark-mcp-bot/internal/tools"
)

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	fs     afero.Fs
}

func (a *app) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	a.fs = afero.NewOsFs()
	slog.SetDefault(a.logger)
	return nil
}

// runtime is the long-lived state shared by the transports.
type runtime struct {
	store     conversation.Store
	guard     dedup.Guard
	mcp       *mcpclient.Client
	scheduler *scheduler.Scheduler
	handle    *bot.Lazy[*bot.Bot]
}

func (a *app) startRuntime(ctx context.Context, sender reply.Sender) (*runtime, error) {
	cfg := a.cfg
	a.logger.Info("starting", "mode", cfg.DeploymentMode(), "provider", cfg.LLMProvider, "model", cfg.OpenAIModel)

	store, err := conversation.Open(ctx, conversation.Config{
		Backend:          cfg.StoreBackend,
		RedisURL:         cfg.RedisURL,
		RedisKeyPrefix:   cfg.RedisKeyPrefix,
		SQLitePath:       cfg.SQLitePath,
		TTL:              cfg.ConversationTTL,
		MaxConversations: cfg.MaxConversations,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	var guard dedup.Guard = dedup.NewMemoryGuard(cfg.DedupWindow)
	if rs, ok := store.(*conversation.RedisStore); ok {
		guard = dedup.NewRedisGuard(rs.Client(), cfg.RedisKeyPrefix, cfg.DedupWindow, a.logger)
	}

	authSvc, err := a.authService()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var recorder storage.Recorder
	if cfg.InteractionLogPath != "" {
		fr, err := storage.NewFileRecorder(a.fs, cfg.InteractionLogPath)
		if err != nil {
			a.logger.Warn("interaction log disabled", "error", err)
		} else {
			recorder = fr
		}
	}

	rt := &runtime{
		store:     store,
		guard:     guard,
		mcp:       a.mcpClient(),
		scheduler: scheduler.New(a.logger),
	}
	if err := rt.scheduler.Add("conversation_cleanup", cfg.CleanupSchedule,
		scheduler.CleanupJob(store, cfg.ConversationTTL, a.logger)); err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.scheduler.Start()

	factory := &llm.Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
	}

	rt.handle = bot.NewLazy(func(ctx context.Context) (*bot.Bot, error) {
		client, err := factory.CreateClient(cfg.LLMProvider, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		catalog, err := a.loadCatalog(ctx, rt.mcp)
		if err != nil {
			return nil, err
		}
		prompt, err := cfg.SystemPrompt(a.fs)
		if err != nil {
			return nil, err
		}
		return bot.New(bot.Config{
			SystemPrompt:            prompt,
			ConversationTTL:         cfg.ConversationTTL,
			ContextWindow:           cfg.ContextWindow,
			ContextWindowAfterTools: cfg.ContextWindowAfterTools,
			HistoryCap:              cfg.HistoryCap,
			HistoryCapWithTools:     cfg.HistoryCapWithTools,
			Temperature:             cfg.Temperature,
			MaxTokens:               cfg.MaxTokens,
		}, bot.Deps{
			LLM:      client,
			Store:    store,
			Guard:    guard,
			Catalog:  catalog,
			Executor: tools.NewExecutor(catalog, rt.mcp, a.logger),
			Recorder: recorder,
			Auth:     authSvc,
			Logger:   a.logger,
			Sender: reply.NewRetrySender(sender, reply.Options{
				MaxRetries:  cfg.SendMaxRetries,
				BackoffBase: cfg.SendBackoffBase,
			}, a.logger),
		})
	})
	return rt, nil
}

// HandleEvent builds the bot on first use. A failed build is retried with the next event.
func (rt *runtime) HandleEvent(ctx context.Context, ev bot.Event) {
	b, err := rt.handle.Get(ctx)
	if err != nil {
		slog.Error("bot is not available", "event_id", ev.EventID, "error", err)
		return
	}
	b.HandleEvent(ctx, ev)
}

// Reload drops the built bot. The next event rebuilds it with a fresh tool catalog and
// system prompt.
func (rt *runtime) Reload() {
	rt.handle.Reset()
	slog.Info("bot will be rebuilt on the next event")
}

// reloadOnHangup calls Reload on every SIGHUP until ctx is done.
func (rt *runtime) reloadOnHangup(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			rt.Reload()
		}
	}
}

func (rt *runtime) Close() {
	rt.scheduler.Stop()
	if err := rt.mcp.Close(); err != nil {
		slog.Warn("close mcp session", "error", err)
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("close conversation store", "error", err)
	}
}

func (a *app) mcpClient() *mcpclient.Client {
	var env []string
	if a.cfg.LarkEnabled() {
		env = append(env, "APP_ID="+a.cfg.LarkAppID, "APP_SECRET="+a.cfg.LarkAppSecret)
	}
	return mcpclient.New(a.cfg.MCPServerCommand, env, a.logger)
}

// loadCatalog returns an empty catalog when tools are unavailable for the configured setup.
func (a *app) loadCatalog(ctx context.Context, client *mcpclient.Client) (*tools.Catalog, error) {
	if a.cfg.MCPServerCommand == "" {
		a.logger.Info("no mcp server configured, tools disabled")
		return tools.NewCatalog(nil, tools.Filter{}), nil
	}
	if !llm.SupportsTools(a.cfg.LLMProvider) {
		a.logger.Warn("provider does not support tool calls, tools disabled", "provider", a.cfg.LLMProvider)
		return tools.NewCatalog(nil, tools.Filter{}), nil
	}
	descs, err := client.Descriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tool catalog: %w", err)
	}
	catalog := tools.NewCatalog(descs, tools.Filter{
		EnabledPrefixes: a.cfg.EnabledToolPrefixes,
		Disabled:        a.cfg.DisabledTools,
	})
	a.logger.Info("tool catalog ready", "available", len(descs), "enabled", catalog.Len())
	return catalog, nil
}

func (a *app) authService() (*auth.Service, error) {
	var repo auth.Repository
	if a.cfg.AllowlistFilePath != "" {
		fr, err := auth.NewFileRepository(a.fs, a.cfg.AllowlistFilePath)
		if err != nil {
			return nil, fmt.Errorf("open allowlist: %w", err)
		}
		repo = fr
	}
	return auth.NewWithRepo(repo, a.cfg.AllowedUsers)
}
