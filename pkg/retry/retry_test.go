package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/objectfs/cachereclaim/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeCheckpointFailed, "device busy")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	tests := []struct {
		name string
		err  error
	}{
		{"plain error", stderr.New("boom")},
		{"non-retryable code", errors.NewError(errors.ErrCodeVolumeNotFound, "gone")},
		{"retryable flag cleared", func() error {
			e := errors.NewError(errors.ErrCodeUnmountFailed, "bad")
			e.Retryable = false
			return e
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retryer.Do(func() error {
				attempts++
				return tt.err
			})
			if err != tt.err {
				t.Errorf("Expected the original error, got %v", err)
			}
			if attempts != 1 {
				t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
			}
		})
	}
}

func TestRetryer_ListedCodeRetriesWithoutFlag(t *testing.T) {
	config := fastConfig(2)
	config.RetryableErrors = []errors.ErrorCode{errors.ErrCodeVolumeNotFound}
	retryer := New(config)

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeVolumeNotFound, "not yet")
	})
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeCheckpointFailed, "device gone")

	var retried []int
	retryer = retryer.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	})

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !stderr.Is(err, testErr) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}
	if !errors.HasCode(err, errors.ErrCodeCheckpointFailed) {
		t.Error("Expected code to survive wrapping")
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("Expected OnRetry for attempts 1 and 2, got %v", retried)
	}
}

func TestRetryer_SingleAttemptReturnsErrorUnchanged(t *testing.T) {
	retryer := New(Once())
	testErr := errors.NewError(errors.ErrCodeCheckpointFailed, "device gone")

	err := retryer.Do(func() error { return testErr })
	if err != testErr {
		t.Errorf("Expected the original error, got %v", err)
	}
	if retryer.MaxAttempts() != 1 {
		t.Errorf("Expected 1 attempt, got %d", retryer.MaxAttempts())
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig(10)
	config.InitialDelay = time.Hour
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	done := make(chan error, 1)
	go func() {
		done <- retryer.DoWithContext(ctx, func(context.Context) error {
			attempts++
			return errors.NewError(errors.ErrCodeCheckpointFailed, "device busy")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after cancellation")
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt before cancel, got %d", attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DoWithContext did not return after cancel")
	}
}

func TestCalculateDelay(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = 300 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, want := range expected {
		if got := retryer.calculateDelay(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}

	retryer = New(DefaultConfig())
	for i := 0; i < 20; i++ {
		d := retryer.calculateDelay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Errorf("jittered delay %v outside 20%% of 100ms", d)
		}
	}
}
