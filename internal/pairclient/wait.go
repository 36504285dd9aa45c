package pairclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInterval    = 2 * time.Second
	maxBackoffInterval = 30 * time.Second
)

var errPending = errors.New("code still pending")

// pollBackOff waits the server's interval while a code is pending and backs
// off exponentially from it while polls fail transiently.
type pollBackOff struct {
	interval  time.Duration
	exp       *backoff.ExponentialBackOff
	transient bool
}

func newPollBackOff(interval time.Duration) *pollBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = interval
	exp.MaxInterval = maxBackoffInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &pollBackOff{interval: interval, exp: exp}
}

func (b *pollBackOff) NextBackOff() time.Duration {
	if b.transient {
		return b.exp.NextBackOff()
	}
	b.exp.Reset()
	return b.interval
}

func (b *pollBackOff) Reset() {
	b.transient = false
	b.exp.Reset()
}

// WaitOption observes each failed poll, e.g. to log retries.
type WaitOption func(*waitOptions)

type waitOptions struct {
	notify func(err error, next time.Duration)
}

func WithNotify(fn func(err error, next time.Duration)) WaitOption {
	return func(o *waitOptions) { o.notify = fn }
}

// WaitLinked polls code until it is linked, the server reports it gone, or
// ctx ends. A non-positive interval uses DefaultInterval.
func (c *Client) WaitLinked(ctx context.Context, code string, interval time.Duration, opts ...WaitOption) (*Status, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	var o waitOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := newPollBackOff(interval)

	op := func() (*Status, error) {
		st, err := c.Status(ctx, code)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			b.transient = true
			return nil, err
		}

		b.transient = false
		if !st.Linked() {
			return nil, errPending
		}
		return st, nil
	}

	notify := func(err error, next time.Duration) {
		if o.notify != nil && !errors.Is(err, errPending) {
			o.notify(err, next)
		}
	}

	return backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
}
