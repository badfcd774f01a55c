package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragchat/internal/domain"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingProvider retries transient failures of the wrapped provider with
// exponential backoff. Streams are only retried while being opened; once
// fragments flow, errors go to the caller.
type RetryingProvider struct {
	next   domain.CompletionProvider
	policy RetryPolicy
	log    *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewRetryingProvider(next domain.CompletionProvider, policy RetryPolicy, log *slog.Logger) *RetryingProvider {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	return &RetryingProvider{next: next, policy: policy, log: log, sleep: sleepContext}
}

func (p *RetryingProvider) Name() string { return p.next.Name() }

// Health is not retried.
func (p *RetryingProvider) Health(ctx context.Context) error { return p.next.Health(ctx) }

func (p *RetryingProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var text string
	err := p.do(ctx, "complete", func() error {
		var err error
		text, err = p.next.Complete(ctx, req)
		return err
	})
	return text, err
}

func (p *RetryingProvider) Stream(ctx context.Context, req domain.CompletionRequest) (domain.FragmentStream, error) {
	var fs domain.FragmentStream
	err := p.do(ctx, "stream", func() error {
		var err error
		fs, err = p.next.Stream(ctx, req)
		return err
	})
	return fs, err
}

func (p *RetryingProvider) do(ctx context.Context, op string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil || !domain.IsRetryable(err) || attempt+1 >= p.policy.MaxAttempts {
			return err
		}
		delay := p.delay(attempt, err)
		p.log.Warn("provider call failed, retrying", "op", op, "provider", p.next.Name(), "attempt", attempt+1, "delay", delay, "error", err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// delay honours a server-requested Retry-After, otherwise backs off
// exponentially from BaseDelay. Both are capped at MaxDelay.
func (p *RetryingProvider) delay(attempt int, err error) time.Duration {
	var pe *domain.ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return min(pe.RetryAfter, p.policy.MaxDelay)
	}
	return retryDelay(p.policy.BaseDelay, p.policy.MaxDelay, attempt)
}

func retryDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return limit
	}
	d := base << attempt
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
