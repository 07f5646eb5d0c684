// Package telegram is a second transport for the bot: long polling in, plain text out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/shoma-endo/lark-mcp-bot/internal/bot"
)

// maxMessageLen is the Bot API limit for one text message.
const maxMessageLen = 4096

// Poller turns updates into bot events.
type Poller struct {
	updates  updatesSource
	username string
	handle   func(ctx context.Context, ev bot.Event)
	logger   *slog.Logger
}

func NewPoller(api *tgbotapi.BotAPI, handle func(ctx context.Context, ev bot.Event), logger *slog.Logger) *Poller {
	return newPoller(api, api.Self.UserName, handle, logger)
}

func newPoller(updates updatesSource, username string, handle func(ctx context.Context, ev bot.Event), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{updates: updates, username: username, handle: handle, logger: logger.With("component", "telegram")}
}

// Start polls until ctx is done. Messages are handled one at a time.
func (p *Poller) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := p.updates.GetUpdatesChan(u)
	defer p.updates.StopReceivingUpdates()

	p.logger.Info("telegram polling started", "username", p.username)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ev, ok := ToEvent(update, p.username)
			if !ok {
				continue
			}
			p.handle(ctx, ev)
		}
	}
}

// ToEvent converts a text message update. Other updates are skipped.
func ToEvent(update tgbotapi.Update, botUsername string) (bot.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return bot.Event{}, false
	}
	text := msg.Text
	if botUsername != "" {
		text = strings.ReplaceAll(text, "@"+botUsername, "")
	}
	ev := bot.Event{
		EventID: "tg-" + strconv.Itoa(update.UpdateID),
		Message: bot.EventMessage{
			MessageID:   strconv.Itoa(msg.MessageID),
			ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
			Content:     strings.TrimSpace(text),
			MessageType: "text",
		},
	}
	if msg.From != nil {
		ev.Sender = &bot.EventSender{SenderID: &bot.SenderID{UserID: strconv.FormatInt(msg.From.ID, 10)}}
	}
	return ev, true
}

// SendError wraps a Bot API failure.
type SendError struct {
	Code       int
	RetryAfter int
	Cause      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram send failed (code %d): %v", e.Code, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// Retryable is true for flood control and server errors.
func (e *SendError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// RetryDelay is the flood-control wait the Bot API asked for.
func (e *SendError) RetryDelay() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

type Sender struct {
	s sender
}

func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{s: api}
}

// SplitText cuts text into parts the Bot API accepts.
func (s *Sender) SplitText(text string) []string {
	return splitMessage(text, maxMessageLen)
}

// SendText splits long replies into several messages.
func (s *Sender) SendText(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return &SendError{Code: http.StatusBadRequest, Cause: fmt.Errorf("invalid chat id %q: %w", chatID, err)}
	}
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := s.s.Send(tgbotapi.NewMessage(id, part)); err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) {
				return &SendError{Code: apiErr.Code, RetryAfter: apiErr.RetryAfter, Cause: err}
			}
			return err
		}
	}
	return nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
