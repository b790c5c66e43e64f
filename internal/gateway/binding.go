package gateway

import (
	"fmt"

	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
)

type bindingKey struct {
	tenantID string
	provider string
}

// binding is a tenant's sticky cursor into one provider's pool, plus the
// clients it has already built, keyed by credential id.
type binding struct {
	lastIndex    int
	credentialID string
	clients      map[string]provider.Client
}

// Lease is the credential and client a single attempt should use.
type Lease struct {
	TenantID   string
	Provider   string
	Credential credential.Credential
	Client     provider.Client
}

// BindingInfo describes a live binding.
type BindingInfo struct {
	LastIndex     int
	CredentialID  string
	CachedClients int
}

// Acquire selects the next credential for a tenant. A new binding starts at
// the head of the pool; an existing one continues from its cursor so a
// tenant's requests rotate round-robin. Clients are built lazily and reused.
func (s *State) Acquire(tenantID, providerName string) (*Lease, error) {
	u, ok := s.upstreams[providerName]
	if !ok {
		return nil, invalidRequest("unknown provider %q", providerName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{tenantID, providerName}
	b := s.bindings[key]
	start := 0
	if b != nil {
		start = b.lastIndex
	}

	cred, next, err := u.Pool.Select(start)
	if err != nil {
		return nil, err
	}

	if b == nil {
		b = &binding{clients: make(map[string]provider.Client)}
		s.bindings[key] = b
	}
	b.lastIndex = next
	b.credentialID = cred.ID

	client, ok := b.clients[cred.ID]
	if !ok {
		client, err = s.buildClient(u, cred)
		if err != nil {
			return nil, err
		}
		b.clients[cred.ID] = client
	}

	return &Lease{
		TenantID:   tenantID,
		Provider:   providerName,
		Credential: cred,
		Client:     client,
	}, nil
}

// Invalidate drops the tenant's binding for a provider.
func (s *State) Invalidate(tenantID, providerName string) {
	s.mu.Lock()
	delete(s.bindings, bindingKey{tenantID, providerName})
	s.mu.Unlock()
}

// Binding returns the live binding for a tenant and provider, if any.
func (s *State) Binding(tenantID, providerName string) (BindingInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingKey{tenantID, providerName}]
	if !ok {
		return BindingInfo{}, false
	}
	return BindingInfo{
		LastIndex:     b.lastIndex,
		CredentialID:  b.credentialID,
		CachedClients: len(b.clients),
	}, true
}

// invalidateCredentialLocked removes bindings bound to credID and evicts
// cached clients for it from the rest.
func (s *State) invalidateCredentialLocked(providerName, credID string) {
	for key, b := range s.bindings {
		if key.provider != providerName {
			continue
		}
		if b.credentialID == credID {
			delete(s.bindings, key)
			continue
		}
		delete(b.clients, credID)
	}
}

// buildClient resolves the credential's secret and builds a client. It
// performs no network IO, so it is safe under s.mu.
func (s *State) buildClient(u *Upstream, cred credential.Credential) (provider.Client, error) {
	key, err := s.secrets.Resolve(cred.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolve secret for credential %s: %w", cred.ID, err)
	}
	return u.Factory(provider.ClientConfig{
		APIKey:     key,
		BaseURL:    u.BaseURL,
		HTTPClient: s.httpClient,
	}), nil
}
