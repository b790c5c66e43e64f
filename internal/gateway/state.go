// Package gateway dispatches tenant chat requests to pooled provider
// credentials, failing over between credentials when an upstream rate
// limits and recording the cost of every completed request.
package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/ECHOITWEB/teampulse-sub005/internal/secrets"
)

// Upstream is one configured provider: how to build clients for it and the
// credentials it can use.
type Upstream struct {
	Name    string
	BaseURL string
	Factory provider.Factory
	Pool    *credential.Pool
}

// State owns every credential pool and the tenant binding map. Lock order is
// always State.mu before any pool's lock.
type State struct {
	upstreams  map[string]*Upstream
	secrets    secrets.Store
	httpClient *http.Client

	mu       sync.Mutex
	bindings map[bindingKey]*binding
}

type StateOption func(*State)

// WithHTTPClient sets the HTTP client handed to every provider client.
func WithHTTPClient(c *http.Client) StateOption {
	return func(s *State) { s.httpClient = c }
}

func NewState(upstreams []*Upstream, store secrets.Store, opts ...StateOption) (*State, error) {
	if store == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	s := &State{
		upstreams: make(map[string]*Upstream, len(upstreams)),
		secrets:   store,
		bindings:  make(map[bindingKey]*binding),
	}
	for _, u := range upstreams {
		if u == nil || u.Name == "" {
			return nil, fmt.Errorf("upstream name is required")
		}
		if _, dup := s.upstreams[u.Name]; dup {
			return nil, fmt.Errorf("duplicate upstream %q", u.Name)
		}
		if u.Factory == nil {
			return nil, fmt.Errorf("upstream %q has no client factory", u.Name)
		}
		if u.Pool == nil || u.Pool.Size() == 0 {
			return nil, fmt.Errorf("upstream %q has no credentials", u.Name)
		}
		s.upstreams[u.Name] = u
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *State) Upstream(name string) (*Upstream, bool) {
	u, ok := s.upstreams[name]
	return u, ok
}

// Providers returns the configured provider names, sorted.
func (s *State) Providers() []string {
	names := make([]string, 0, len(s.upstreams))
	for name := range s.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PoolSize is the number of credentials configured for a provider, or zero.
func (s *State) PoolSize(name string) int {
	if u, ok := s.upstreams[name]; ok {
		return u.Pool.Size()
	}
	return 0
}

// Snapshot returns the credential status of every provider.
func (s *State) Snapshot() map[string][]credential.Status {
	out := make(map[string][]credential.Status, len(s.upstreams))
	for name, u := range s.upstreams {
		out[name] = u.Pool.Snapshot()
	}
	return out
}

// Quarantine takes credID out of rotation and drops every binding that
// points at it, as one step: no concurrent Acquire can observe a binding
// still holding a quarantined credential. It reports whether this call moved
// the credential into quarantine.
func (s *State) Quarantine(tenantID, providerName, credID string) bool {
	u, ok := s.upstreams[providerName]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transitioned := u.Pool.Mark(credID)
	// the caller's binding is dropped only if it still holds credID; a
	// concurrent request may already have rotated it elsewhere
	s.invalidateCredentialLocked(providerName, credID)
	return transitioned
}
