package adsb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// TestRetryWithBackoffResult tests retry with result return.
func TestRetryWithBackoffResult(t *testing.T) {
	t.Run("Success on first attempt", func(t *testing.T) {
		attempts := 0
		result, err := RetryWithBackoffResult(context.Background(), fastRetry(3), func() (string, error) {
			attempts++
			return "ok", nil
		})

		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if result != "ok" || attempts != 1 {
			t.Errorf("Expected ok after 1 attempt, got %q after %d", result, attempts)
		}
	})

	t.Run("Success after retries", func(t *testing.T) {
		attempts := 0
		result, err := RetryWithBackoffResult(context.Background(), fastRetry(3), func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("temporary error")
			}
			return 42, nil
		})

		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if result != 42 || attempts != 3 {
			t.Errorf("Expected 42 after 3 attempts, got %d after %d", result, attempts)
		}
	})

	t.Run("Max retries exceeded preserves error", func(t *testing.T) {
		expectedErr := errors.New("persistent error")
		attempts := 0
		err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
			attempts++
			return expectedErr
		})

		if !errors.Is(err, expectedErr) {
			t.Errorf("Expected wrapped original error, got: %v", err)
		}
		// initial + 3 retries
		if attempts != 4 {
			t.Errorf("Expected 4 attempts, got %d", attempts)
		}
	})

	t.Run("Zero retries", func(t *testing.T) {
		attempts := 0
		RetryWithBackoff(context.Background(), RetryConfig{}, func() error {
			attempts++
			return errors.New("error")
		})
		if attempts != 1 {
			t.Errorf("Expected 1 attempt with 0 retries, got %d", attempts)
		}
	})

	t.Run("Context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts := 0
		err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() error {
			attempts++
			return errors.New("error")
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled error, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Respects Retry-After", func(t *testing.T) {
		cfg := fastRetry(1)
		cfg.RespectRetryAfter = true

		attempts := 0
		start := time.Now()
		RetryWithBackoff(context.Background(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return &RateLimitError{StatusCode: 429, RetryAfter: 50 * time.Millisecond, Message: "slow down"}
			}
			return nil
		})

		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("Expected to wait for Retry-After, took %v", elapsed)
		}
	})
}

// TestRetryDelay tests backoff growth and the max delay cap.
func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0}

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := cfg.delay(i + 1); got != w*time.Millisecond {
			t.Errorf("delay(%d): expected %v, got %v", i+1, w*time.Millisecond, got)
		}
	}
}

// TestDefaultRetryConfig tests default configuration.
func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != time.Second {
		t.Errorf("Expected InitialDelay 1s, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 60*time.Second {
		t.Errorf("Expected MaxDelay 60s, got %v", config.MaxDelay)
	}
	if !config.RespectRetryAfter {
		t.Error("Expected RespectRetryAfter by default")
	}
}
