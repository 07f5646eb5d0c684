package bot

import (
	"errors"
	"fmt"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
	"github.com/shoma-endo/lark-mcp-bot/internal/reply"
)

// Kind selects the apology shown to the user.
type Kind string

const (
	KindGeneric     Kind = "generic"
	KindRateLimited Kind = "rate_limited"
	KindQuota       Kind = "quota_exhausted"
	KindTool        Kind = "tool"
	KindPlatform    Kind = "platform"
)

const (
	msgGeneric     = "Sorry, something went wrong while processing your message. Please try again."
	msgRateLimited = "I'm receiving too many requests right now. Please wait a moment and try again."
	msgQuota       = "The AI service has run out of quota. Please contact the administrator."
	msgToolFormat  = "Sorry, I ran into a problem while using the tool %q. Please try again later."
	msgPlatform    = "Sorry, I had trouble communicating with the chat platform. Please try again later."
)

// Error is a failure of one message cycle, tagged with what the user should be told.
type Error struct {
	Kind      Kind
	Retryable bool
	// Tool names the failing tool for KindTool.
	Tool  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	if e.Tool != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Tool, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// UserMessage is the apology text for the error's kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return msgRateLimited
	case KindQuota:
		return msgQuota
	case KindTool:
		if e.Tool != "" {
			return fmt.Sprintf(msgToolFormat, e.Tool)
		}
		return msgGeneric
	case KindPlatform:
		return msgPlatform
	default:
		return msgGeneric
	}
}

// AsError maps any error onto the cycle taxonomy.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	var de *reply.DeliveryError
	if errors.As(err, &de) {
		return &Error{Kind: KindPlatform, Cause: err}
	}
	le := llm.Classify(err)
	switch le.Kind {
	case llm.KindRateLimit:
		return &Error{Kind: KindRateLimited, Retryable: true, Cause: err}
	case llm.KindQuota:
		return &Error{Kind: KindQuota, Cause: err}
	}
	return &Error{Kind: KindGeneric, Retryable: le.Retryable(), Cause: err}
}
