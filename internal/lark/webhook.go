package lark

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/core/httpserverext"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/shoma-endo/lark-mcp-bot/internal/bot"
)

// EventHandler consumes one message event. It must not block for long when the webhook
// runs synchronously.
type EventHandler func(ctx context.Context, ev bot.Event)

type WebhookConfig struct {
	VerificationToken string
	EncryptKey        string
	// Async acknowledges the delivery before the handler finishes. The platform
	// redelivers events that are not acknowledged within a few seconds.
	Async bool
	// HandlerTimeout bounds asynchronous handling.
	HandlerTimeout time.Duration
}

// Webhook receives event callbacks. URL verification, token checks and decryption are
// done by the SDK dispatcher; every parsed message event is acknowledged with 200.
type Webhook struct {
	cfg     WebhookConfig
	handle  EventHandler
	logger  *slog.Logger
	serve   http.HandlerFunc
	pending sync.WaitGroup
}

func NewWebhook(cfg WebhookConfig, handle EventHandler, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 2 * time.Minute
	}
	w := &Webhook{cfg: cfg, handle: handle, logger: logger.With("component", "lark_webhook")}
	d := dispatcher.NewEventDispatcher(cfg.VerificationToken, cfg.EncryptKey).
		OnP2MessageReceiveV1(w.onMessage)
	w.serve = httpserverext.NewEventHandlerFunc(d, larkevent.WithLogLevel(larkcore.LogLevelError))
	return w
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.serve(rw, r)
}

// Wait blocks until asynchronous handlers have finished.
func (w *Webhook) Wait() { w.pending.Wait() }

func (w *Webhook) onMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	ev := ToEvent(event)
	if ev.Message.MessageType != "" && ev.Message.MessageType != larkim.MsgTypeText {
		w.logger.Debug("non-text message ignored", "message_type", ev.Message.MessageType, "chat_id", ev.Message.ChatID)
		return nil
	}
	if !w.cfg.Async {
		w.handle(ctx, ev)
		return nil
	}
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HandlerTimeout)
		defer cancel()
		w.handle(hctx, ev)
	}()
	return nil
}

// ToEvent copies the fields the bot uses out of an SDK event.
func ToEvent(event *larkim.P2MessageReceiveV1) bot.Event {
	var ev bot.Event
	if event == nil {
		return ev
	}
	if event.EventV2Base != nil && event.EventV2Base.Header != nil {
		ev.EventID = event.EventV2Base.Header.EventID
	}
	data := event.Event
	if data == nil {
		return ev
	}
	if m := data.Message; m != nil {
		ev.Message = bot.EventMessage{
			MessageID:   deref(m.MessageId),
			ChatID:      deref(m.ChatId),
			Content:     deref(m.Content),
			MessageType: deref(m.MessageType),
		}
	}
	if s := data.Sender; s != nil && s.SenderId != nil {
		ev.Sender = &bot.EventSender{SenderID: &bot.SenderID{
			UserID:  deref(s.SenderId.UserId),
			OpenID:  deref(s.SenderId.OpenId),
			UnionID: deref(s.SenderId.UnionId),
		}}
	}
	return ev
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
