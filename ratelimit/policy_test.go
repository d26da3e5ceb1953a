package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
)

func newTestPolicy(now *time.Time) (*Policy, *MemoryStateStore) {
	store := NewMemoryStateStore()
	policy := NewPolicy(store)
	policy.Now = func() time.Time { return *now }
	return policy, store
}

func TestPolicy_AdmitsUnknownBucket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, _ := newTestPolicy(&now)
	if err := policy.Admit(context.Background(), "api.example.test"); err != nil {
		t.Fatalf("expected no error without state, got %v", err)
	}
}

func TestPolicy_ObserveRecordsQuotaHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := newTestPolicy(&now)

	err := policy.Observe(context.Background(), "API.example.test", transport.Response{
		StatusCode: 200,
		Headers: map[string]string{
			"x-ratelimit-limit":     "5000",
			"X-RateLimit-Remaining": "4999",
			"X-RateLimit-Reset":     "1700000045",
		},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	state, err := store.Get(context.Background(), "api.example.test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Limit != 5000 || state.Remaining != 4999 {
		t.Fatalf("unexpected quota %+v", state)
	}
	if !state.ResetAt.Equal(now.Add(45 * time.Second)) {
		t.Fatalf("unexpected reset %s", state.ResetAt)
	}
	if err := policy.Admit(context.Background(), "api.example.test"); err != nil {
		t.Fatalf("expected admission with quota left, got %v", err)
	}
}

func TestPolicy_ExhaustedQuotaBlocksUntilReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, _ := newTestPolicy(&now)

	if err := policy.Observe(context.Background(), "b", transport.Response{
		StatusCode: 200,
		Headers:    map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000030"},
	}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	err := policy.Admit(context.Background(), "b")
	var throttled ThrottledError
	if !errors.As(err, &throttled) || throttled.RetryAfter <= 0 {
		t.Fatalf("expected throttled error, got %v", err)
	}
}

func TestPolicy_TooManyRequestsHonoursRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := newTestPolicy(&now)

	if err := policy.Observe(context.Background(), "b", transport.Response{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "10"},
	}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	state, _ := store.Get(context.Background(), "b")
	if state.Attempts != 1 || state.ThrottledUntil.Sub(now) != 10*time.Second {
		t.Fatalf("expected 10s window after one attempt, got %+v", state)
	}

	err := policy.Admit(context.Background(), "b")
	var throttled ThrottledError
	if !errors.As(err, &throttled) || throttled.RetryAfter != 10*time.Second {
		t.Fatalf("expected 10s throttle, got %v", err)
	}

	now = now.Add(11 * time.Second)
	if err := policy.Admit(context.Background(), "b"); err != nil {
		t.Fatalf("expected admission after window, got %v", err)
	}
}

func TestPolicy_BackoffDoublesWithoutRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := newTestPolicy(&now)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 30 * time.Second

	for i := 0; i < 2; i++ {
		if err := policy.Observe(context.Background(), "b", transport.Response{StatusCode: 429}); err != nil {
			t.Fatalf("observe %d: %v", i, err)
		}
		now = now.Add(3 * time.Second)
	}
	state, _ := store.Get(context.Background(), "b")
	if state.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", state.Attempts)
	}
	if got := state.ThrottledUntil.Sub(now.Add(-3 * time.Second)); got != 4*time.Second {
		t.Fatalf("expected 4s backoff, got %s", got)
	}
}

func TestPolicy_SuccessClearsThrottle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := newTestPolicy(&now)
	_ = store.Put(context.Background(), State{Bucket: "b", Attempts: 3, Remaining: -1, ThrottledUntil: now.Add(10 * time.Second)})

	now = now.Add(12 * time.Second)
	if err := policy.Observe(context.Background(), "b", transport.Response{StatusCode: 200}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	state, _ := store.Get(context.Background(), "b")
	if state.Attempts != 0 || !state.ThrottledUntil.IsZero() {
		t.Fatalf("expected throttle cleared, got %+v", state)
	}

	if err := policy.Observe(context.Background(), "b", transport.Response{StatusCode: 503}); err != nil {
		t.Fatalf("observe 503: %v", err)
	}
	if err := policy.Admit(context.Background(), "b"); err != nil {
		t.Fatalf("expected server errors not to throttle, got %v", err)
	}
}

func TestThrottledError_ToError(t *testing.T) {
	err := ThrottledError{Bucket: "b", RetryAfter: 3 * time.Second}.ToError()
	if !core.IsKind(err, core.ErrorKindExecution) {
		t.Fatalf("expected execution kind, got %v", err)
	}
	if err.Code != 429 {
		t.Fatalf("expected 429, got %d", err.Code)
	}
	if core.MetadataOf(err)["retry_after_ms"] != int64(3000) {
		t.Fatalf("expected retry_after_ms, got %#v", core.MetadataOf(err))
	}
	if wait, ok := RetryAfter(err); !ok || wait != 3*time.Second {
		t.Fatalf("expected wrapped throttle window, got %s %v", wait, ok)
	}
	if _, ok := RetryAfter(errors.New("boom")); ok {
		t.Fatalf("expected plain errors to carry no window")
	}
}
