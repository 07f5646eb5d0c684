package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoma-endo/lark-mcp-bot/internal/bot"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
	// errs are returned one per call before err is consulted; nil means success.
	errs []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	} else if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped bool
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }
func (f *fakeUpdates) StopReceivingUpdates()                                        { f.stopped = true }

func textUpdate(id int, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			MessageID: id * 10,
			From:      &tgbotapi.User{ID: 42},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestToEvent(t *testing.T) {
	ev, ok := ToEvent(textUpdate(7, -100123, "@lark_mcp_bot what's up"), "lark_mcp_bot")
	require.True(t, ok)
	assert.Equal(t, "tg-7", ev.DedupKey())
	assert.Equal(t, "-100123", ev.Message.ChatID)
	assert.Equal(t, "70", ev.Message.MessageID)
	assert.Equal(t, "what's up", ev.Message.Content)
	assert.Equal(t, "42", ev.UserID())

	_, ok = ToEvent(tgbotapi.Update{UpdateID: 1}, "")
	assert.False(t, ok)
	_, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}}, "")
	assert.False(t, ok)
}

func TestPoller_DispatchesUntilCancelled(t *testing.T) {
	src := &fakeUpdates{ch: make(chan tgbotapi.Update, 3)}
	var mu sync.Mutex
	var got []bot.Event
	done := make(chan struct{}, 3)
	p := newPoller(src, "lark_mcp_bot", func(_ context.Context, ev bot.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		done <- struct{}{}
	}, nil)

	src.ch <- textUpdate(1, 5, "hi")
	src.ch <- tgbotapi.Update{UpdateID: 2}
	src.ch <- textUpdate(3, 5, "again")

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(finished)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("update not handled")
		}
	}
	cancel()
	<-finished

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Message.Content)
	assert.Equal(t, "again", got[1].Message.Content)
	assert.True(t, src.stopped)
}

func TestSender_SendText(t *testing.T) {
	fs := &fakeSender{}
	s := &Sender{s: fs}

	require.NoError(t, s.SendText(context.Background(), "12345", "hello"))
	require.Len(t, fs.sent, 1)
	assert.Equal(t, int64(12345), fs.sent[0].ChatID)
	assert.Equal(t, "hello", fs.sent[0].Text)

	err := s.SendText(context.Background(), "oc_not_numeric", "x")
	assert.False(t, reply.IsRetryable(err))
}

func TestSender_ClassifiesAPIErrors(t *testing.T) {
	fs := &fakeSender{err: &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}}
	s := &Sender{s: fs}

	err := s.SendText(context.Background(), "1", "x")
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.RetryAfter)
	assert.True(t, reply.IsRetryable(err))

	fs.err = &tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}
	assert.False(t, reply.IsRetryable(s.SendText(context.Background(), "1", "x")))

	fs.err = errors.New("dial tcp: i/o timeout")
	assert.True(t, reply.IsRetryable(s.SendText(context.Background(), "1", "x")))
}

func TestSender_RetryResendsOnlyFailedPart(t *testing.T) {
	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 2}}
	fs := &fakeSender{errs: []error{nil, flood}}
	var slept []time.Duration
	rs := reply.NewRetrySender(&Sender{s: fs}, reply.Options{
		MaxRetries:  3,
		BackoffBase: 10 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, nil)

	text := strings.Repeat("a", maxMessageLen) + strings.Repeat("b", 10)
	require.NoError(t, rs.SendText(context.Background(), "7", text))

	require.Len(t, fs.sent, 2)
	assert.Equal(t, strings.Repeat("a", maxMessageLen), fs.sent[0].Text)
	assert.Equal(t, strings.Repeat("b", 10), fs.sent[1].Text)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitMessage(long, 10)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaaaa\n", parts[0])
	assert.Equal(t, "bbbbbb", parts[1])

	parts = splitMessage(strings.Repeat("x", 25), 10)
	assert.Len(t, parts, 3)
}
