// Package ratelimit tracks the throttling signals remote HTTP APIs return
// and refuses calls while a bucket is known to be exhausted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
	goerrors "github.com/goliatone/go-errors"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what is known about one bucket. Buckets are keyed by connector
// instance and host.
type State struct {
	Bucket         string
	Limit          int
	Remaining      int
	ResetAt        time.Time
	ThrottledUntil time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, bucket string) (State, error)
	Put(ctx context.Context, state State) error
}

// ThrottledError is returned by Admit while a bucket is cooling down.
type ThrottledError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: bucket %q throttled for %s", e.Bucket, e.RetryAfter)
}

// ToError converts e into an execution error carrying retry_after_ms, so
// job retries can wait out the window.
func (e ThrottledError) ToError() *goerrors.Error {
	metadata := map[string]any{"bucket": e.Bucket}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.Wrap(e, goerrors.CategoryRateLimit, e.Error()).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(string(core.ErrorKindExecution)).
		WithMetadata(metadata)
}

// RetryAfter reports the throttle window carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		return 0, false
	}
	return throttled.RetryAfter, true
}

type Policy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewPolicy(store StateStore) *Policy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Policy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Admit fails with a ThrottledError when the bucket is inside a throttle
// window or has no requests left before its reset.
func (p *Policy) Admit(ctx context.Context, bucket string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	bucket = normalizeBucket(bucket)
	state, err := p.Store.Get(ctx, bucket)
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := p.now()
	if now.Before(state.ThrottledUntil) {
		return ThrottledError{Bucket: bucket, RetryAfter: state.ThrottledUntil.Sub(now)}
	}
	if state.Remaining == 0 && now.Before(state.ResetAt) {
		return ThrottledError{Bucket: bucket, RetryAfter: state.ResetAt.Sub(now)}
	}
	return nil
}

// Observe records the rate limit headers of response. A 429, or an
// exhausted quota on a non-5xx response, opens a throttle window sized by
// Retry-After or, without one, by doubling backoff.
func (p *Policy) Observe(ctx context.Context, bucket string, response transport.Response) error {
	if p == nil || p.Store == nil {
		return nil
	}
	bucket = normalizeBucket(bucket)
	now := p.now()
	state, err := p.Store.Get(ctx, bucket)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Bucket: bucket, Remaining: -1}
	case err != nil:
		return err
	}
	state.LastStatus = response.StatusCode
	state.UpdatedAt = now

	signalled := false
	if limit, ok := headerInt(response.Headers, "X-RateLimit-Limit"); ok {
		state.Limit = limit
		signalled = true
	}
	if remaining, ok := headerInt(response.Headers, "X-RateLimit-Remaining"); ok {
		state.Remaining = remaining
		signalled = true
	}
	if reset, ok := headerInt(response.Headers, "X-RateLimit-Reset"); ok && reset > 0 {
		state.ResetAt = time.Unix(int64(reset), 0).UTC()
		signalled = true
	}
	retryAfter, hasRetryAfter := parseRetryAfter(response.Headers, now)

	throttled := response.StatusCode == http.StatusTooManyRequests ||
		(response.StatusCode < 500 && state.Remaining == 0 && (signalled || hasRetryAfter))
	if !throttled {
		state.Attempts = 0
		state.ThrottledUntil = time.Time{}
		return p.Store.Put(ctx, state)
	}
	state.Attempts++
	if !hasRetryAfter {
		retryAfter = p.backoff(state.Attempts)
	}
	state.ThrottledUntil = now.Add(retryAfter)
	return p.Store.Put(ctx, state)
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	ceiling := p.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := header(headers, "Retry-After")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	at, err := http.ParseTime(raw)
	if err != nil || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}

func headerInt(headers map[string]string, name string) (int, bool) {
	raw := header(headers, name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	return value, err == nil
}

func header(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeBucket(bucket string) string {
	return strings.ToLower(strings.TrimSpace(bucket))
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, bucket string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeBucket(bucket)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Put(_ context.Context, state State) error {
	state.Bucket = normalizeBucket(state.Bucket)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Bucket] = state
	return nil
}
