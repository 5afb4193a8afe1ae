// Package retry runs outbound calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

type Config struct {
	MaxAttempts int           `split_words:"true" default:"3"`
	BaseDelay   time.Duration `split_words:"true" default:"1s"`
}

// Policy controls how many times an operation runs and how long to wait
// between runs. Every error is retried the same way.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Name labels log lines; optional.
	Name string

	sleep func(ctx context.Context, d time.Duration) error
}

func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func FromConfig(cfg Config) Policy {
	p := Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
	return p.normalized()
}

// Named returns a copy of p that tags log lines with name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// WithSleep replaces the backoff sleeper. Tests use it to observe delays.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

// Delay is the wait before the given 1-indexed attempt: zero for the first,
// BaseDelay*2^(attempt-2) afterwards.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BaseDelay << (attempt - 2)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// Do runs op until it succeeds or MaxAttempts is reached. The error of the
// final attempt is returned unchanged on exhaustion. If ctx ends during a
// backoff, the last error is returned joined with the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return zero, errors.Join(lastErr, err)
			}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		ev := log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.MaxAttempts)
		if p.Name != "" {
			ev = ev.Str("op", p.Name)
		}
		if attempt < p.MaxAttempts {
			ev.Dur("next_delay", p.Delay(attempt+1)).Msg("retry: attempt failed")
		} else {
			ev.Msg("retry: attempts exhausted")
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry: backoff interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
