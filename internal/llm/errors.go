package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the provider answers without any choice.
var ErrEmptyResponse = errors.New("empty response from llm")

type ErrorKind string

const (
	KindRateLimit  ErrorKind = "rate_limit"
	KindQuota      ErrorKind = "quota"
	KindAuth       ErrorKind = "auth"
	KindTimeout    ErrorKind = "timeout"
	KindTransient  ErrorKind = "transient"
	KindBadRequest ErrorKind = "bad_request"
	KindUnknown    ErrorKind = "unknown"
)

// Error is a classified LLM call failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s (status %d): %v", e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether a later attempt may succeed without operator action.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindTransient:
		return true
	}
	return false
}

// Classify maps any error returned by a provider onto an *Error. A nil error yields nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := classifyCode(apiErr.Code, apiErr.Type); ok {
			return &Error{Kind: kind, StatusCode: apiErr.HTTPStatusCode, Cause: err}
		}
		body := fmt.Sprintf("%s %s", apiErr.Message, apiErr.Type)
		return &Error{Kind: classifyStatus(apiErr.HTTPStatusCode, body), StatusCode: apiErr.HTTPStatusCode, Cause: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: classifyStatus(reqErr.HTTPStatusCode, err.Error()), StatusCode: reqErr.HTTPStatusCode, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: classifyStatus(0, err.Error()), Cause: err}
}

// classifyCode maps the structured error code, when the provider sent one.
func classifyCode(code any, typ string) (ErrorKind, bool) {
	for _, c := range []string{fmt.Sprint(code), typ} {
		switch strings.ToLower(c) {
		case "insufficient_quota", "billing_hard_limit_reached":
			return KindQuota, true
		case "rate_limit_exceeded", "tokens", "requests":
			return KindRateLimit, true
		}
	}
	return "", false
}

// classifyStatus falls back to the status and message text. Rate limit messages link to
// the billing page, so only explicit quota wording counts as quota.
func classifyStatus(status int, body string) ErrorKind {
	lower := strings.ToLower(body)

	if status == http.StatusPaymentRequired ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "insufficient credit") {
		return KindQuota
	}
	if status == http.StatusTooManyRequests ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") {
		return KindRateLimit
	}
	if strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline") {
		return KindTimeout
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status >= 500:
		return KindTransient
	}
	return KindUnknown
}
