package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls the exponential backoff applied to transient failures
// throughout the analyzer: registry fetches, source-host API calls, CouchDB
// writes under contention, AMQP reconnects.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // 0 disables the overall deadline
	MaxRetries      int           // 0 disables the attempt cap
}

// DefaultRetryConfig mirrors the defaults most of the analyzer's adapters use:
// a second of initial backoff growing to half a minute, retried for up to two
// minutes before the caller's own retry bookkeeping takes over.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
		MaxRetries:      0,
	}
}

// Retry runs op until it succeeds, returns a non-transient error, or the
// backoff policy gives up. Only errors classified as KindTransient (see
// errors.go) are retried; anything else returns immediately.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(cfg.MaxRetries)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, opts...)
}

// RetryNotify behaves like Retry but invokes notify before each sleep, so
// callers can log "reconnect attempt N" style diagnostics the way the
// durable queue's reconnect supervisor does.
func RetryNotify[T any](ctx context.Context, cfg RetryConfig, op func() (T, error), notify func(err error, attempt int)) (T, error) {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(cfg.MaxRetries)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		result, err := op()
		if err == nil {
			return result, nil
		}
		attempt++
		if notify != nil {
			notify(err, attempt)
		}
		if !IsTransient(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, opts...)
}
