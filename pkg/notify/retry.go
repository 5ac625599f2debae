package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/standup/pkg/chat"
)

// ErrRetriesExhausted is returned when every attempt was throttled.
var ErrRetriesExhausted = errors.New("notify: retries exhausted")

// Policy controls retries of throttled calls.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Clock sleeps between attempts.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// Random returns a value in [0, n). n is always positive.
type Random func(n int64) int64

// backoff produces decorrelated-jitter delays: each delay is drawn from
// [base, 3*previous) and clamped to max.
type backoff struct {
	base time.Duration
	max  time.Duration
	prev time.Duration
	rand Random
}

func newBackoff(p Policy, r Random) *backoff {
	return &backoff{base: p.BaseDelay, max: p.MaxDelay, prev: p.BaseDelay, rand: r}
}

func (b *backoff) next() time.Duration {
	upper := b.prev * 3
	d := b.base
	if span := int64(upper - b.base); span > 0 {
		d = b.base + time.Duration(b.rand(span))
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	b.prev = d
	return d
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, chat.ErrThrottled)
}

// retry runs fn until it succeeds, fails with a non-retryable error, the
// policy runs out of attempts, or ctx is done.
func (s *Sender) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := newBackoff(s.policy, s.random)

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= s.policy.MaxAttempts {
			break
		}

		delay := b.next()
		if hint := chat.RetryAfter(err); hint > delay {
			delay = hint
		}
		// A server hint never stretches one wait past the policy ceiling.
		if s.policy.MaxDelay > 0 && delay > s.policy.MaxDelay {
			delay = s.policy.MaxDelay
		}

		s.onRetry(op, attempt, delay, err)

		if serr := s.clock.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, op, s.policy.MaxAttempts, err)
}
