package ws

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy bounds reconnection: exponential delays from BaseDelay growing by
// Multiplier up to MaxDelay, randomized by +/- Jitter, for at most MaxAttempts dials.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		Jitter:      0.2,
		MaxDelay:    10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// BackOff yields MaxAttempts-1 delays, one before every dial after the first.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var bo backoff.BackOff = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	if ctx != nil {
		bo = backoff.WithContext(bo, ctx)
	}
	return bo
}
