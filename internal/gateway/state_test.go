package gateway

import (
	"errors"
	"sync"
	"testing"

	"github.com/ECHOITWEB/teampulse-sub005/config"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAcquire_NewBindingStartsAtHead(t *testing.T) {
	h := newHarness(t, []string{"A", "B", "C"})

	lease, err := h.state.Acquire("tenant-1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "A", lease.Credential.ID)
	assert.Equal(t, "openai", lease.Credential.Provider)

	info, found := h.state.Binding("tenant-1", "openai")
	require.True(t, found)
	assert.Equal(t, 1, info.LastIndex)
	assert.Equal(t, "A", info.CredentialID)

	h.state.Invalidate("tenant-1", "openai")
	_, found = h.state.Binding("tenant-1", "openai")
	assert.False(t, found)

	lease, err = h.state.Acquire("tenant-1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "A", lease.Credential.ID, "invalidation resets the cursor")
}

func TestQuarantine_InvalidatesEveryBindingOnCredential(t *testing.T) {
	h := newHarness(t, []string{"A", "B", "C"})

	for _, tenant := range []string{"t1", "t2"} {
		lease, err := h.state.Acquire(tenant, "openai")
		require.NoError(t, err)
		require.Equal(t, "A", lease.Credential.ID)
	}
	// t3 rotated past A and is bound to B, but still caches A's client
	_, err := h.state.Acquire("t3", "openai")
	require.NoError(t, err)
	lease, err := h.state.Acquire("t3", "openai")
	require.NoError(t, err)
	require.Equal(t, "B", lease.Credential.ID)

	assert.True(t, h.state.Quarantine("t1", "openai", "A"))

	_, found := h.state.Binding("t1", "openai")
	assert.False(t, found)
	_, found = h.state.Binding("t2", "openai")
	assert.False(t, found, "other tenants bound to the quarantined credential lose their binding")

	info, found := h.state.Binding("t3", "openai")
	require.True(t, found)
	assert.Equal(t, "B", info.CredentialID)
	assert.Equal(t, 1, info.CachedClients, "cached client for the quarantined credential is evicted")

	lease, err = h.state.Acquire("t2", "openai")
	require.NoError(t, err)
	assert.Equal(t, "B", lease.Credential.ID)

	// a second signal does not transition again
	assert.False(t, h.state.Quarantine("t2", "openai", "A"))
	assert.Equal(t, 2, h.status(t, "A").ErrorCount)
}

func TestQuarantine_KeepsCallerBindingThatMovedOn(t *testing.T) {
	h := newHarness(t, []string{"A", "B", "C"})

	lease, err := h.state.Acquire("t1", "openai")
	require.NoError(t, err)
	require.Equal(t, "A", lease.Credential.ID)
	// a concurrent request from the same tenant has already rotated to B
	lease, err = h.state.Acquire("t1", "openai")
	require.NoError(t, err)
	require.Equal(t, "B", lease.Credential.ID)

	assert.True(t, h.state.Quarantine("t1", "openai", "A"))

	info, found := h.state.Binding("t1", "openai")
	require.True(t, found, "binding no longer on A survives")
	assert.Equal(t, "B", info.CredentialID)
	assert.Equal(t, 2, info.LastIndex)
	assert.Equal(t, 1, info.CachedClients)

	lease, err = h.state.Acquire("t1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "C", lease.Credential.ID, "cursor is not reset")
}

func TestAcquire_Exhausted(t *testing.T) {
	h := newHarness(t, []string{"A"})
	h.state.Quarantine("t1", "openai", "A")

	_, err := h.state.Acquire("t1", "openai")
	assert.True(t, errors.Is(err, credential.ErrExhausted))

	_, err = h.state.Acquire("t1", "unknown")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestAcquire_NeverReturnsQuarantinedCredential(t *testing.T) {
	h := newHarness(t, []string{"A", "B", "C", "D"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.state.Quarantine("t", "openai", "A")
		}()
		go func() {
			defer wg.Done()
			_, _ = h.state.Acquire("t", "openai")
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		lease, err := h.state.Acquire("t", "openai")
		require.NoError(t, err)
		assert.NotEqual(t, "A", lease.Credential.ID)
	}
	_, found := h.state.Binding("t", "openai")
	assert.True(t, found)
}

func TestNewState_Rejects(t *testing.T) {
	up := newFakeUpstream()
	pool := credential.NewPool("openai", []credential.Credential{{ID: "A", SecretRef: "env:A"}})

	_, err := NewState([]*Upstream{{Name: "openai", Factory: up.factory, Pool: pool}}, nil)
	assert.Error(t, err)

	_, err = NewState([]*Upstream{
		{Name: "openai", Factory: up.factory, Pool: pool},
		{Name: "openai", Factory: up.factory, Pool: pool},
	}, secrets.MapStore{})
	assert.Error(t, err)

	_, err = NewState([]*Upstream{{Name: "openai", Pool: pool}}, secrets.MapStore{})
	assert.Error(t, err)

	empty := credential.NewPool("openai", nil)
	_, err = NewState([]*Upstream{{Name: "openai", Factory: up.factory, Pool: empty}}, secrets.MapStore{})
	assert.Error(t, err)
}

func TestAcquire_SecretResolutionFailure(t *testing.T) {
	up := newFakeUpstream()
	pool := credential.NewPool("openai", []credential.Credential{{ID: "A", SecretRef: "env:MISSING"}})
	state, err := NewState([]*Upstream{{Name: "openai", Factory: up.factory, Pool: pool}}, secrets.MapStore{})
	require.NoError(t, err)

	_, err = state.Acquire("t1", "openai")
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

const testGatewayYAML = `
providers:
  - name: openai
    credentials:
      - id: openai-a
        secret-ref: env:OPENAI_A
      - id: openai-b
        secret-ref: env:OPENAI_B
  - name: anthropic
    type: claude
    base-url: http://localhost:9999
    credentials:
      - id: claude-a
        secret-ref: literal:sk-ant
pricing:
  default:
    input-per-1k: 0.01
    output-per-1k: 0.03
  models:
    - provider: openai
      model: gpt-4o-mini
      input-per-1k: 0.00015
      output-per-1k: 0.0006
`

func TestBuildState(t *testing.T) {
	file, err := config.ParseGatewayFile([]byte(testGatewayYAML))
	require.NoError(t, err)

	store := secrets.MapStore{
		"env:OPENAI_A":   "sk-a",
		"env:OPENAI_B":   "sk-b",
		"literal:sk-ant": "sk-ant",
	}
	state, err := BuildState(file, BuildOptions{Secrets: store, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	assert.Equal(t, []string{"anthropic", "openai"}, state.Providers())
	assert.Equal(t, 2, state.PoolSize("openai"))
	assert.Equal(t, 1, state.PoolSize("anthropic"))
	assert.Equal(t, 0, state.PoolSize("gemini"))

	up, found := state.Upstream("anthropic")
	require.True(t, found)
	assert.Equal(t, "http://localhost:9999", up.BaseURL)

	lease, err := state.Acquire("t1", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "claude", lease.Client.Name())

	snap := state.Snapshot()
	require.Len(t, snap["openai"], 2)
	assert.Equal(t, "openai-a", snap["openai"][0].ID)
}

func TestBuildState_Errors(t *testing.T) {
	file, err := config.ParseGatewayFile([]byte(testGatewayYAML))
	require.NoError(t, err)

	_, err = BuildState(file, BuildOptions{Secrets: secrets.MapStore{}})
	assert.ErrorIs(t, err, secrets.ErrNotFound)

	_, err = BuildState(file, BuildOptions{})
	assert.Error(t, err)

	file.Providers[0].Type = "mistral"
	_, err = BuildState(file, BuildOptions{Secrets: secrets.NewEnvStore()})
	assert.Error(t, err)
}

func TestBuildPricing(t *testing.T) {
	file, err := config.ParseGatewayFile([]byte(testGatewayYAML))
	require.NoError(t, err)

	table, err := BuildPricing(file)
	require.NoError(t, err)

	row, found := table.Lookup("openai", "gpt-4o-mini")
	assert.True(t, found)
	assert.Equal(t, 0.00015, row.InputPer1K)
	assert.Equal(t, 0.03, table.Default().OutputPer1K)
}

func TestErrorKinds(t *testing.T) {
	err := &Error{Kind: KindCapacityExhausted, Provider: "openai", Attempts: 2}
	assert.True(t, errors.Is(err, ErrCapacityExhausted))
	assert.False(t, errors.Is(err, ErrProviderError))
	assert.Equal(t, KindCapacityExhausted, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Contains(t, err.Error(), "capacity_exhausted (openai)")
}
