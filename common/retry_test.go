package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Classify(KindTransient, "test", "not yet", errors.New("retry me"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsImmediatelyOnNonTransientError(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		return "", Classify(KindUnrecoverable, "test", "not retryable", errors.New("bad input"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.MaxRetries = 2

	attempts := 0
	_, err := Retry(context.Background(), cfg, func() (string, error) {
		attempts++
		return "", Classify(KindTransient, "test", "always transient", errors.New("boom"))
	})

	assert.Error(t, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetryNotify_InvokesCallbackPerAttempt(t *testing.T) {
	var notified []int
	attempts := 0

	_, err := RetryNotify(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Classify(KindTransient, "test", "retry", errors.New("x"))
		}
		return "done", nil
	}, func(_ error, attempt int) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, notified)
}
