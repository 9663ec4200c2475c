package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy shapes the exponential backoff between attempts. Delays are
// jittered by ±25% to avoid thundering herds.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches typical provider guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     8 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// RetryingClient wraps a Provider with classification-driven retries.
// Rate-limit and timeout failures are retried with exponential backoff;
// deterministic failures surface immediately. Context cancellation always
// terminates the loop at once.
type RetryingClient struct {
	provider Provider
	policy   RetryPolicy
	logger   *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// NewRetryingClient wraps the provider with the given policy. Zero policy
// fields take defaults.
func NewRetryingClient(provider Provider, policy RetryPolicy) *RetryingClient {
	return &RetryingClient{
		provider: provider,
		policy:   policy.normalized(),
		logger:   slog.With("component", "llm", "provider", provider.Name()),
		sleep:    sleepCtx,
		jitter:   jitterDelay,
	}
}

func (c *RetryingClient) Name() string { return c.provider.Name() }

// Complete runs the request with retries per the policy.
func (c *RetryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	delay := c.policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		class := ClassifyError(err)
		if !Retryable(class) || attempt == c.policy.MaxAttempts {
			return nil, fmt.Errorf("llm completion failed (%s) after %d attempt(s): %w", class, attempt, err)
		}

		c.logger.Warn("LLM call failed, retrying",
			"attempt", attempt,
			"class", class,
			"delay", delay,
			"error", err)
		if err := c.sleep(ctx, c.jitter(delay)); err != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * c.policy.Multiplier)
		if delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitterDelay spreads d uniformly across ±25%.
func jitterDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}
