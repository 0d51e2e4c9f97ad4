// Package retry wraps cenkalti/backoff with the bounded exponential policy
// used for feed and catalog requests.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the default number of attempts, including the first
	DefaultMaxAttempts = 5
	// DefaultInitialInterval is the default delay before the first retry
	DefaultInitialInterval = 500 * time.Millisecond
	// DefaultMaxInterval caps the delay between attempts
	DefaultMaxInterval = 10 * time.Second
	// DefaultMaxElapsedTime bounds the total time spent on one operation
	DefaultMaxElapsedTime = 2 * time.Minute
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts     uint          `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`
}

// DefaultPolicy returns the default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
	}
}

// withDefaults fills zero fields from DefaultPolicy
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxElapsedTime <= 0 {
		p.MaxElapsedTime = d.MaxElapsedTime
	}
	return p
}

// Notify is called after a failed attempt, before sleeping for next.
type Notify func(err error, next time.Duration)

// Permanent marks err as not retryable. Do returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Hinted is implemented by errors carrying a server-requested delay, such
// as an HTTP Retry-After header.
type Hinted interface {
	RetryAfter() time.Duration
}

// hintBackOff waits at least as long as the last error asked for, capped at max
type hintBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (h *hintBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next != backoff.Stop && h.hint > next {
		next = min(h.hint, h.max)
	}
	h.hint = 0
	return next
}

func (h *hintBackOff) observe(err error) {
	var hinted Hinted
	if errors.As(err, &hinted) {
		h.hint = hinted.RetryAfter()
	}
}

// Do runs op until it succeeds, returns a Permanent error, the policy is
// exhausted, or ctx is done. The last error is returned on exhaustion.
// A Hinted error stretches the next delay up to the policy's MaxInterval.
func Do[T any](ctx context.Context, p Policy, op func() (T, error), notify Notify) (T, error) {
	p = p.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	b := &hintBackOff{BackOff: exp, max: p.MaxInterval}

	observed := func() (T, error) {
		v, err := op()
		b.observe(err)
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(p.MaxElapsedTime),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}
	return backoff.Retry(ctx, observed, opts...)
}
