package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	calls int
	errs  []error
}

func (f *fakeSender) SendText(_ context.Context, _, _ string) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return err
}

type splittingSender struct {
	sent  []string
	calls []string
	fail  map[string]int
}

func (s *splittingSender) SplitText(text string) []string { return strings.Split(text, "|") }

func (s *splittingSender) SendText(_ context.Context, _, text string) error {
	s.calls = append(s.calls, text)
	if s.fail[text] > 0 {
		s.fail[text]--
		return errors.New("502 bad gateway")
	}
	s.sent = append(s.sent, text)
	return nil
}

type floodErr struct{ wait time.Duration }

func (floodErr) Error() string               { return "too many requests" }
func (floodErr) Retryable() bool             { return true }
func (e floodErr) RetryDelay() time.Duration { return e.wait }

type permanentErr struct{}

func (permanentErr) Error() string   { return "invalid receive_id" }
func (permanentErr) Retryable() bool { return false }

func newTestSender(next Sender, max int) (*RetrySender, *[]time.Duration) {
	var slept []time.Duration
	s := NewRetrySender(next, Options{
		MaxRetries:  max,
		BackoffBase: time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, nil)
	return s, &slept
}

func TestRetrySender_FailOnceThenSucceed(t *testing.T) {
	fake := &fakeSender{errs: []error{errors.New("connection reset"), nil}}
	s, slept := newTestSender(fake, 3)

	require.NoError(t, s.SendText(context.Background(), "c1", "hi"))
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestRetrySender_Exhaustion(t *testing.T) {
	cause := errors.New("503 service unavailable")
	fake := &fakeSender{errs: []error{cause}}
	s, slept := newTestSender(fake, 3)

	err := s.SendText(context.Background(), "c1", "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, fake.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestRetrySender_NonRetryableAbortsImmediately(t *testing.T) {
	fake := &fakeSender{errs: []error{permanentErr{}}}
	s, slept := newTestSender(fake, 3)

	err := s.SendText(context.Background(), "c1", "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Attempts)
	assert.Equal(t, 1, fake.calls)
	assert.Empty(t, *slept)
}

func TestRetrySender_StopsWhenContextDone(t *testing.T) {
	fake := &fakeSender{errs: []error{errors.New("timeout")}}
	s := NewRetrySender(fake, Options{MaxRetries: 5, BackoffBase: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.SendText(ctx, "c1", "hi")
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(permanentErr{}))
	assert.True(t, IsRetryable(errors.New("boom")))
}

func TestRetrySender_RetriesEachPartOnItsOwn(t *testing.T) {
	next := &splittingSender{fail: map[string]int{"two": 1}}
	s, slept := newTestSender(next, 3)

	require.NoError(t, s.SendText(context.Background(), "c1", "one|two|three"))
	assert.Equal(t, []string{"one", "two", "two", "three"}, next.calls)
	assert.Equal(t, []string{"one", "two", "three"}, next.sent)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestRetrySender_HonorsRetryDelayHint(t *testing.T) {
	fake := &fakeSender{errs: []error{floodErr{wait: 5 * time.Second}, floodErr{wait: time.Second}, nil}}
	s, slept := newTestSender(fake, 3)

	require.NoError(t, s.SendText(context.Background(), "c1", "hi"))
	// the hint wins when longer than the backoff, the backoff otherwise
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second}, *slept)
}
