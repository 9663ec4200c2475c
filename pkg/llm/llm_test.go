package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"rate limit message", errors.New("429 too many requests"), ErrorRateLimited},
		{"overloaded", errors.New("Overloaded, please retry"), ErrorRateLimited},
		{"timeout message", errors.New("request timed out"), ErrorTimeout},
		{"deadline sentinel", context.DeadlineExceeded, ErrorTimeout},
		{"wrapped deadline", &wrapErr{context.DeadlineExceeded}, ErrorTimeout},
		{"context length", errors.New("prompt is too long: maximum context exceeded"), ErrorContextTooLong},
		{"internal server error", errors.New("500 internal server error"), ErrorServerError},
		{"bad gateway", errors.New("502 Bad Gateway"), ErrorServerError},
		{"service unavailable", errors.New("503 service unavailable"), ErrorServerError},
		{"bare status code", errors.New("unexpected status 500"), ErrorServerError},
		{"anything else", errors.New("connection reset by peer"), ErrorUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "call failed: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrorRateLimited))
	assert.True(t, Retryable(ErrorTimeout))
	assert.True(t, Retryable(ErrorServerError))
	assert.False(t, Retryable(ErrorContextTooLong))
	assert.False(t, Retryable(ErrorUnknown))
}

// scriptedProvider returns pre-programmed results per attempt.
type scriptedProvider struct {
	results []error
	resp    *Response
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ Request) (*Response, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.results) && p.results[idx] != nil {
		return nil, p.results[idx]
	}
	if p.resp != nil {
		return p.resp, nil
	}
	return &Response{Content: "ok"}, nil
}

func newTestClient(p Provider, maxAttempts int) (*RetryingClient, *[]time.Duration) {
	c := NewRetryingClient(p, RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, &slept
}

func TestRetryingClient(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds first try", func(t *testing.T) {
		p := &scriptedProvider{}
		c, slept := newTestClient(p, 3)

		resp, err := c.Complete(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 1, p.calls)
		assert.Empty(t, *slept)
	})

	t.Run("retries transient failures with backoff", func(t *testing.T) {
		p := &scriptedProvider{results: []error{
			errors.New("429 too many requests"),
			errors.New("request timed out"),
			nil,
		}}
		c, slept := newTestClient(p, 3)

		resp, err := c.Complete(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, p.calls)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
	})

	t.Run("retries server errors", func(t *testing.T) {
		p := &scriptedProvider{results: []error{
			errors.New("500 internal server error"),
			errors.New("503 service unavailable"),
			nil,
		}}
		c, slept := newTestClient(p, 3)

		resp, err := c.Complete(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, p.calls)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
	})

	t.Run("exhausted attempts surface the last error", func(t *testing.T) {
		p := &scriptedProvider{results: []error{
			errors.New("rate limit"),
			errors.New("rate limit"),
			errors.New("rate limit"),
		}}
		c, _ := newTestClient(p, 3)

		_, err := c.Complete(ctx, Request{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempt(s)")
		assert.Equal(t, 3, p.calls)
	})

	t.Run("deterministic failures are not retried", func(t *testing.T) {
		p := &scriptedProvider{results: []error{
			errors.New("prompt is too long for the context window"),
		}}
		c, slept := newTestClient(p, 3)

		_, err := c.Complete(ctx, Request{})
		require.Error(t, err)
		assert.Equal(t, 1, p.calls)
		assert.Empty(t, *slept)
	})

	t.Run("cancellation terminates immediately", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		p := &scriptedProvider{results: []error{errors.New("rate limit")}}
		c, slept := newTestClient(p, 3)
		cancel()

		_, err := c.Complete(cancelled, Request{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, p.calls)
		assert.Empty(t, *slept)
	})

	t.Run("delay caps at max", func(t *testing.T) {
		p := &scriptedProvider{results: []error{
			errors.New("rate limit"),
			errors.New("rate limit"),
			errors.New("rate limit"),
			errors.New("rate limit"),
			nil,
		}}
		c, slept := newTestClient(p, 5)
		c.policy.MaxDelay = 300 * time.Millisecond

		_, err := c.Complete(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			300 * time.Millisecond,
			300 * time.Millisecond,
		}, *slept)
	})
}

func TestJitterDelay(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := jitterDelay(base)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
