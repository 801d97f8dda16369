package model

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how fast a failed holder payout is retried.
// MaxRetries is the number of failed attempts after which a holder is exhausted.
type RetryPolicy struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
}

// DefaultRetryPolicy returns five attempts spaced 30s, 1m, 2m, 4m apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 30 * time.Second,
		MaxInterval:     30 * time.Minute,
		Multiplier:      2,
	}
}

// Backoff returns the delay before the retry that follows failed attempt
// number attempt (1-based). The curve is a non-randomized exponential
// backoff capped at MaxInterval.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = 24 * time.Hour
	}
	b.Reset()

	next := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		next = b.NextBackOff()
	}
	return next
}

// Exhausted reports whether retryCounter failed attempts use up the policy.
func (p RetryPolicy) Exhausted(retryCounter int) bool {
	return retryCounter >= p.MaxRetries
}
