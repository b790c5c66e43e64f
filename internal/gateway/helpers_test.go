package gateway

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/billing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/pricing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/ECHOITWEB/teampulse-sub005/internal/secrets"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type behavior func(ctx context.Context) (*provider.Response, error)

func ok(in, out int) behavior {
	return func(ctx context.Context) (*provider.Response, error) {
		return &provider.Response{ID: "resp", Content: "hello", InputTokens: in, OutputTokens: out}, nil
	}
}

func rateLimited() behavior {
	return func(ctx context.Context) (*provider.Response, error) {
		return nil, &provider.Error{Provider: "openai", StatusCode: http.StatusTooManyRequests, RateLimited: true, Message: "slow down"}
	}
}

func serverError() behavior {
	return func(ctx context.Context) (*provider.Response, error) {
		return nil, &provider.Error{Provider: "openai", StatusCode: http.StatusInternalServerError, Message: "boom"}
	}
}

func blockUntilDone() behavior {
	return func(ctx context.Context) (*provider.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// fakeUpstream hands out clients whose behavior is looked up by API key, so a
// test can script each credential independently.
type fakeUpstream struct {
	mu       sync.Mutex
	behavior map[string]behavior
	calls    []string
	builds   int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{behavior: make(map[string]behavior)}
}

func (f *fakeUpstream) set(key string, b behavior) {
	f.mu.Lock()
	f.behavior[key] = b
	f.mu.Unlock()
}

func (f *fakeUpstream) factory(cfg provider.ClientConfig) provider.Client {
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()
	return &fakeClient{key: cfg.APIKey, up: f}
}

func (f *fakeUpstream) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

type fakeClient struct {
	key string
	up  *fakeUpstream
}

func (c *fakeClient) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	c.up.mu.Lock()
	c.up.calls = append(c.up.calls, c.key)
	b := c.up.behavior[c.key]
	c.up.mu.Unlock()
	if b == nil {
		b = ok(10, 10)
	}
	return b(ctx)
}

func (c *fakeClient) Name() string { return "fake" }

type memRecorder struct {
	mu      sync.Mutex
	records []*billing.UsageRecord
}

func (r *memRecorder) Record(rec *billing.UsageRecord) bool {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return true
}

func (r *memRecorder) all() []*billing.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*billing.UsageRecord(nil), r.records...)
}

type harness struct {
	clock    *fakeClock
	upstream *fakeUpstream
	state    *State
	recorder *memRecorder
	prices   *pricing.Table
	d        *Dispatcher
}

// newHarness builds a dispatcher for one provider, "openai", whose
// credentials have ids equal to their API keys.
func newHarness(t *testing.T, ids []string, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	up := newFakeUpstream()

	store := secrets.MapStore{}
	creds := make([]credential.Credential, len(ids))
	for i, id := range ids {
		ref := "env:KEY_" + id
		store[ref] = id
		creds[i] = credential.Credential{ID: id, SecretRef: ref}
	}
	pool := credential.NewPool("openai", creds,
		credential.WithClock(clock.Now),
		credential.WithCooldown(60*time.Second),
	)
	state, err := NewState([]*Upstream{{Name: "openai", Factory: up.factory, Pool: pool}}, store)
	require.NoError(t, err)

	prices, err := pricing.NewTable([]pricing.Row{
		{Provider: "openai", Model: "gpt-4o-mini", InputPer1K: 0.5, OutputPer1K: 1.5},
	}, &pricing.Row{InputPer1K: 0.002, OutputPer1K: 0.004})
	require.NoError(t, err)

	rec := &memRecorder{}
	base := []Option{WithLogger(zaptest.NewLogger(t)), WithClock(clock.Now)}
	d := NewDispatcher(state, prices, rec, append(base, opts...)...)

	return &harness{clock: clock, upstream: up, state: state, recorder: rec, prices: prices, d: d}
}

func (h *harness) request(tenant string) *Request {
	return &Request{
		TenantID: tenant,
		UserID:   "user-1",
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}
}

func (h *harness) status(t *testing.T, id string) credential.Status {
	t.Helper()
	u, _ := h.state.Upstream("openai")
	st, found := u.Pool.Lookup(id)
	require.True(t, found)
	return st
}
