// Package retry wraps a single outbound call type with bounded attempts.
//
// Only downstream rate limiting (HTTP 429) is retried, after a fixed delay.
// Every other failure is returned on the first attempt, so callers can tell
// "rejected" (a *StatusError or transport error) from "retries exhausted"
// (ErrRetriesExhausted).
package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 10 * time.Second
	DefaultRateLimitDelay = time.Second
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// StatusError is a non-success response of a downstream service. Detail is
// the downstream's diagnostic body, forwarded verbatim.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("downstream returned status %d", e.Code)
	}
	return fmt.Sprintf("downstream returned status %d: %s", e.Code, e.Detail)
}

// StatusOf extracts the downstream status code from err, if it carries one.
func StatusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

func IsRateLimited(err error) bool {
	code, ok := StatusOf(err)
	return ok && code == http.StatusTooManyRequests
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type CallFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Client retries CallFunc on downstream 429 responses.
type Client[Req, Resp any] struct {
	call           CallFunc[Req, Resp]
	name           string
	attempts       int
	attemptTimeout time.Duration
	delay          time.Duration
	sleep          SleepFunc
}

type Option func(*options)

type options struct {
	name           string
	attempts       int
	attemptTimeout time.Duration
	delay          time.Duration
	sleep          SleepFunc
}

func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func WithAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.attempts = n
	}
}

// WithAttemptTimeout bounds each individual attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) {
		o.attemptTimeout = d
	}
}

func WithRateLimitDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.delay = d
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

func New[Req, Resp any](call CallFunc[Req, Resp], opts ...Option) *Client[Req, Resp] {
	o := &options{
		name:           "downstream",
		attempts:       DefaultAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		delay:          DefaultRateLimitDelay,
		sleep:          Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client[Req, Resp]{
		call:           call,
		name:           o.name,
		attempts:       o.attempts,
		attemptTimeout: o.attemptTimeout,
		delay:          o.delay,
		sleep:          o.sleep,
	}
}

// Call runs the wrapped call at most Attempts times.
func (c *Client[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.callOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}

		lastErr = err
		log.Warn().
			Str("client", c.name).
			Int("attempt", attempt).
			Int("max_attempts", c.attempts).
			Msg("Downstream rate limited the request")

		if attempt == c.attempts {
			break
		}
		if err := c.sleep(ctx, c.delay); err != nil {
			return zero, errors.Wrap(err, "waiting to retry")
		}
	}

	return zero, errors.Wrapf(ErrRetriesExhausted, "%s after %d attempts: %v", c.name, c.attempts, lastErr)
}

func (c *Client[Req, Resp]) callOnce(ctx context.Context, req Req) (Resp, error) {
	if c.attemptTimeout <= 0 {
		return c.call(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	return c.call(attemptCtx, req)
}
