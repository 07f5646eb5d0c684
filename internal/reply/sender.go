// Package reply delivers outgoing text with bounded exponential-backoff retry.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sender is the platform's plain send operation.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID, text string) error

func (f SenderFunc) SendText(ctx context.Context, chatID, text string) error {
	return f(ctx, chatID, text)
}

// DeliveryError is returned once every attempt has failed or a non-retryable error
// stopped the loop.
type DeliveryError struct {
	ChatID   string
	Attempts int
	Cause    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver message to chat %s after %d attempt(s): %v", e.ChatID, e.Attempts, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// retryable is implemented by platform errors that know whether a retry can help.
type retryable interface {
	Retryable() bool
}

// delayHinter is implemented by errors that carry the platform's requested wait.
type delayHinter interface {
	RetryDelay() time.Duration
}

func retryDelay(err error) time.Duration {
	var h delayHinter
	if errors.As(err, &h) {
		return h.RetryDelay()
	}
	return 0
}

// Splitter is implemented by senders that deliver long text as several messages.
type Splitter interface {
	SplitText(text string) []string
}

// IsRetryable treats errors without a classification as transient. Context
// cancellation is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

type Options struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	// BackoffBase is the delay after the first failure; it doubles each retry.
	BackoffBase time.Duration
	// Sleep waits between attempts; it must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RetrySender wraps a Sender with retry.
type RetrySender struct {
	next   Sender
	opts   Options
	logger *slog.Logger
}

func NewRetrySender(next Sender, opts Options, logger *slog.Logger) *RetrySender {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrySender{next: next, opts: opts, logger: logger.With("component", "reply_sender")}
}

// SendText delivers text. When the platform splits long messages, each part is retried on
// its own so parts already delivered are not sent twice.
func (s *RetrySender) SendText(ctx context.Context, chatID, text string) error {
	parts := []string{text}
	if sp, ok := s.next.(Splitter); ok {
		parts = sp.SplitText(text)
	}
	for _, part := range parts {
		if err := s.sendPart(ctx, chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (s *RetrySender) sendPart(ctx context.Context, chatID, text string) error {
	delay := s.opts.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		err := s.next.SendText(ctx, chatID, text)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("message delivered after retry", "chat_id", chatID, "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			s.logger.Error("send failed with non-retryable error", "chat_id", chatID, "attempt", attempt, "error", err)
			return &DeliveryError{ChatID: chatID, Attempts: attempt, Cause: err}
		}
		if attempt == s.opts.MaxRetries {
			break
		}
		wait := delay
		if hint := retryDelay(err); hint > wait {
			wait = hint
		}
		s.logger.Warn("send failed, retrying", "chat_id", chatID, "attempt", attempt, "backoff", wait, "error", err)
		if err := s.opts.Sleep(ctx, wait); err != nil {
			return &DeliveryError{ChatID: chatID, Attempts: attempt, Cause: lastErr}
		}
		delay *= 2
	}
	s.logger.Error("send failed after all retries", "chat_id", chatID, "attempts", s.opts.MaxRetries, "error", lastErr)
	return &DeliveryError{ChatID: chatID, Attempts: s.opts.MaxRetries, Cause: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
