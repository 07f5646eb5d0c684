// Package bot runs one inbound chat message through history, the model and at most one
// round of tool calls, then replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shoma-endo/lark-mcp-bot/internal/conversation"
	"github.com/shoma-endo/lark-mcp-bot/internal/dedup"
	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
	"github.com/shoma-endo/lark-mcp-bot/internal/storage"
	"github.com/shoma-endo/lark-mcp-bot/internal/tools"
)

const (
	resetCommand = "/reset"
	resetReply   = "Conversation history cleared."
)

// Outcome tells the transport how a cycle ended.
type Outcome string

const (
	OutcomeReplied      Outcome = "replied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeReset        Outcome = "reset"
	OutcomeFailed       Outcome = "failed"
)

type Config struct {
	SystemPrompt            string
	ConversationTTL         time.Duration
	ContextWindow           int
	ContextWindowAfterTools int
	HistoryCap              int
	HistoryCapWithTools     int
	Temperature             float32
	MaxTokens               int
}

// Authorizer decides whether a sender may talk to the bot.
type Authorizer interface {
	IsAllowed(userID string) bool
}

// Deps are the collaborators of a Bot. Guard, Catalog, Executor, Recorder and Auth are optional.
type Deps struct {
	LLM      llm.Client
	Store    conversation.Store
	Guard    dedup.Guard
	Catalog  *tools.Catalog
	Executor *tools.Executor
	Recorder storage.Recorder
	Auth     Authorizer
	Logger   *slog.Logger

	// Sender should already retry, see reply.RetrySender.
	Sender reply.Sender
}

type Bot struct {
	cfg          Config
	deps         Deps
	systemPrompt string
	logger       *slog.Logger
}

func New(cfg Config, deps Deps) (*Bot, error) {
	if deps.LLM == nil {
		return nil, errors.New("bot: llm client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("bot: conversation store is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("bot: sender is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:          cfg,
		deps:         deps,
		systemPrompt: BuildSystemPrompt(cfg.SystemPrompt, deps.Catalog),
		logger:       logger.With("component", "bot"),
	}, nil
}

// cycle collects what happened during one message for logging and the interaction log.
type cycle struct {
	chatID     string
	userID     string
	text       string
	reply      string
	toolCalls  []string
	failedTool string
}

// HandleEvent processes one inbound event. It never panics and never returns an error:
// failures end in an apology to the chat, or only in the log when even that fails.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) (outcome Outcome) {
	chatID := strings.TrimSpace(ev.Message.ChatID)
	logger := b.logger.With("chat_id", chatID, "event_id", ev.DedupKey())

	if b.deps.Guard != nil && !b.deps.Guard.ShouldProcess(ctx, ev.DedupKey()) {
		logger.Info("duplicate event skipped")
		return OutcomeDuplicate
	}
	if chatID == "" {
		logger.Warn("event without chat id ignored")
		return OutcomeIgnored
	}
	c := &cycle{chatID: chatID, userID: ev.UserID()}
	if b.deps.Auth != nil && !b.deps.Auth.IsAllowed(c.userID) {
		logger.Warn("message from unauthorized sender dropped", "user_id", c.userID)
		return OutcomeUnauthorized
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handling panicked", "panic", r)
			outcome = b.fail(ctx, logger, c, fmt.Errorf("panic: %v", r))
		}
	}()

	b.cleanup(ctx, logger)

	c.text = StripMentions(ParseText(ev.Message.Content))
	if strings.TrimSpace(c.text) == "" {
		logger.Debug("empty message ignored")
		return OutcomeIgnored
	}
	logger.Info("incoming message", "user_id", c.userID, "text", c.text)

	if c.text == resetCommand {
		if err := b.deps.Store.DeleteHistory(ctx, chatID); err != nil {
			return b.fail(ctx, logger, c, fmt.Errorf("reset history: %w", err))
		}
		c.reply = resetReply
		if err := b.deps.Sender.SendText(ctx, chatID, resetReply); err != nil {
			return b.fail(ctx, logger, c, err)
		}
		return OutcomeReset
	}

	if err := b.respond(ctx, logger, c); err != nil {
		return b.fail(ctx, logger, c, err)
	}
	if err := b.deps.Sender.SendText(ctx, chatID, c.reply); err != nil {
		return b.fail(ctx, logger, c, err)
	}
	b.record(logger, c, "")
	return OutcomeReplied
}

// respond runs the model, the optional tool round and persists the new history.
func (b *Bot) respond(ctx context.Context, logger *slog.Logger, c *cycle) error {
	history, err := b.deps.Store.GetHistory(ctx, c.chatID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	history = append(history, llm.Message{Role: llm.RoleUser, Content: c.text})

	first, err := b.generate(ctx, logger, history, b.cfg.ContextWindow, b.deps.Catalog.Definitions())
	if err != nil {
		return err
	}

	historyCap := b.cfg.HistoryCap
	final := first
	if len(first.ToolCalls) > 0 {
		calls := normalizeCalls(first.ToolCalls)
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: first.Content, ToolCalls: calls})
		for _, call := range calls {
			res := b.execute(ctx, call)
			c.toolCalls = append(c.toolCalls, call.Function.Name)
			if res.IsError && c.failedTool == "" {
				c.failedTool = call.Function.Name
			}
			logger.Info("tool executed", "tool", call.Function.Name, "is_error", res.IsError)
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    res.Content,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}

		// tools are not offered again: one round per message
		final, err = b.generate(ctx, logger, history, b.cfg.ContextWindowAfterTools, nil)
		if err != nil {
			if be := AsError(err); be.Kind == KindGeneric && c.failedTool != "" {
				return &Error{Kind: KindTool, Tool: c.failedTool, Cause: err}
			}
			return err
		}
		historyCap = b.cfg.HistoryCapWithTools
	}

	c.reply = strings.TrimSpace(final.Content)
	if c.reply == "" {
		return &llm.Error{Kind: llm.KindUnknown, Cause: llm.ErrEmptyResponse}
	}
	history = append(history, llm.Message{Role: llm.RoleAssistant, Content: c.reply})
	history = conversation.Trim(history, historyCap)
	if err := b.deps.Store.SetHistory(ctx, c.chatID, history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (b *Bot) generate(ctx context.Context, logger *slog.Logger, history []llm.Message, window int, defs []llm.Tool) (llm.Response, error) {
	msgs := make([]llm.Message, 0, window+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b.systemPrompt})
	msgs = append(msgs, conversation.Window(history, window)...)

	start := time.Now()
	resp, err := b.deps.LLM.Generate(ctx, llm.Request{
		Messages:    msgs,
		Tools:       defs,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})
	if err != nil {
		classified := llm.Classify(err)
		logger.Error("llm call failed", "kind", classified.Kind, "duration", time.Since(start), "error", err)
		return llm.Response{}, classified
	}
	logger.Info("llm response",
		"model", resp.Model,
		"tool_calls", len(resp.ToolCalls),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (b *Bot) execute(ctx context.Context, call llm.ToolCall) tools.Result {
	if b.deps.Executor == nil {
		return tools.Result{Content: fmt.Sprintf("%stool %q not found", tools.ErrorPrefix, call.Function.Name), IsError: true}
	}
	return b.deps.Executor.ExecuteCall(ctx, call)
}

// normalizeCalls fills ids and types some providers omit, so tool messages can
// reference their call.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if call.Type == "" {
			call.Type = llm.ToolTypeFunction
		}
		out[i] = call
	}
	return out
}

func (b *Bot) cleanup(ctx context.Context, logger *slog.Logger) {
	if b.cfg.ConversationTTL <= 0 {
		return
	}
	removed, err := b.deps.Store.Cleanup(ctx, b.cfg.ConversationTTL)
	if err != nil {
		logger.Warn("conversation cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("expired conversations removed", "count", removed)
	}
}

// fail sends the apology for err. A failed apology is only logged.
func (b *Bot) fail(ctx context.Context, logger *slog.Logger, c *cycle, err error) Outcome {
	be := AsError(err)
	logger.Error("message handling failed", "kind", be.Kind, "error", err)
	c.reply = be.UserMessage()
	if sendErr := b.deps.Sender.SendText(ctx, c.chatID, c.reply); sendErr != nil {
		logger.Error("failed to send apology", "error", sendErr)
	}
	b.record(logger, c, string(be.Kind))
	return OutcomeFailed
}

func (b *Bot) record(logger *slog.Logger, c *cycle, errorKind string) {
	if b.deps.Recorder == nil || c.text == "" {
		return
	}
	ev := storage.Event{
		Timestamp:         time.Now().UTC(),
		ChatID:            c.chatID,
		UserID:            c.userID,
		UserMessage:       c.text,
		AssistantResponse: c.reply,
		ToolCalls:         c.toolCalls,
		ErrorKind:         errorKind,
	}
	if err := b.deps.Recorder.AppendInteraction(ev); err != nil {
		logger.Warn("failed to record interaction", "error", err)
	}
}
