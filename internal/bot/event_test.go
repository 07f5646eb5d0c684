package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
)

func TestParseText(t *testing.T) {
	cases := map[string]string{
		`{"text":"Hi"}`:          "Hi",
		`{"text":""}`:            "",
		`{"title":"no text"}`:    `{"title":"no text"}`,
		`plain words`:            "plain words",
		`{"text":"multi\nline"}`: "multi\nline",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseText(in), in)
	}
}

func TestStripMentions(t *testing.T) {
	assert.Equal(t, "Hello bot", StripMentions("@_user_123 Hello bot"))
	assert.Equal(t, "hi there", StripMentions("hi @_user_1 there"))
	assert.Equal(t, "everyone", StripMentions("@_all everyone"))
	assert.Equal(t, "", StripMentions("@_user_1 @_user_2"))
	assert.Equal(t, "mail me at a@_user_x.com", StripMentions("mail me at a@_user_x.com"))
}

func TestEvent_Keys(t *testing.T) {
	ev := Event{EventID: "evt", Message: EventMessage{MessageID: "om_1"}}
	assert.Equal(t, "evt", ev.DedupKey())
	ev.EventID = ""
	assert.Equal(t, "om_1", ev.DedupKey())

	assert.Equal(t, "", ev.UserID())
	ev.Sender = &EventSender{SenderID: &SenderID{OpenID: "ou_1", UnionID: "on_1"}}
	assert.Equal(t, "ou_1", ev.UserID())
	ev.Sender.SenderID.UserID = "u_1"
	assert.Equal(t, "u_1", ev.UserID())
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	be := AsError(&llm.Error{Kind: llm.KindRateLimit})
	assert.Equal(t, KindRateLimited, be.Kind)
	assert.True(t, be.Retryable)

	assert.Equal(t, KindQuota, AsError(errors.New("You exceeded your current quota")).Kind)
	assert.Equal(t, KindPlatform, AsError(&reply.DeliveryError{Cause: errors.New("x")}).Kind)

	tool := &Error{Kind: KindTool, Tool: "im_v1_chat_list", Cause: errors.New("x")}
	assert.Same(t, tool, AsError(tool))
	assert.Contains(t, tool.UserMessage(), "im_v1_chat_list")
	assert.Equal(t, msgGeneric, (&Error{Kind: KindTool}).UserMessage())
}

func TestLazy_RetriesAfterFailure(t *testing.T) {
	attempts := 0
	l := NewLazy(func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("cold start failed")
		}
		return 42, nil
	})

	_, err := l.Get(context.Background())
	require.Error(t, err)

	v, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = l.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, attempts)

	l.Reset()
	_, _ = l.Get(context.Background())
	assert.Equal(t, 3, attempts)
}
