package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubBackend struct {
	errs  []error
	calls int
}

func (s *stubBackend) Sync(ctx context.Context, ent Entitlement) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func (s *stubBackend) Revoke(ctx context.Context, userID, productID string) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func TestRetryPolicy_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	expected := errors.New("nope")

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(error) bool { return false },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return expected
	})
	if err != expected {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryPolicy_DefaultPredicateSkipsContextErrors(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCircuitBreaker_OpensAndResets(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	fail := func() error {
		calls++
		return errors.New("fail")
	}

	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}
	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}

	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	now = now.Add(2 * time.Second)

	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to allow trial, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close, got %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected 2 failed calls, got %d", calls)
	}
}

func TestRateLimiter_WaitsWhenExhausted(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var waits []time.Duration

	limiter := NewRateLimiter(100*time.Millisecond, 1)
	limiter.now = func() time.Time { return now }
	limiter.last = now
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(waits) != 1 || waits[0] != 100*time.Millisecond {
		t.Fatalf("expected one wait of 100ms, got %v", waits)
	}
}

func TestReliableBackendClient_SyncRetries(t *testing.T) {
	base := &stubBackend{errs: []error{errors.New("fail")}}
	policy := RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(error) bool { return true },
	}

	client := NewReliableBackendClient(base, nil, nil, policy)
	err := client.Sync(context.Background(), Entitlement{UserID: "user-1", ProductID: "pro.monthly"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}
}

func TestReliableBackendClient_RevokeCircuitOpen(t *testing.T) {
	base := &stubBackend{errs: []error{errors.New("fail"), errors.New("fail")}}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})
	policy := RetryPolicy{
		MaxAttempts: 1,
		ShouldRetry: func(error) bool { return false },
	}

	client := NewReliableBackendClient(base, nil, breaker, policy)
	if err := client.Revoke(context.Background(), "user-1", "pro.monthly"); err == nil {
		t.Fatalf("expected failure")
	}
	if err := client.Revoke(context.Background(), "user-1", "pro.monthly"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected breaker to stop second call, got %d calls", base.calls)
	}
}
