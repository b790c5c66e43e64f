// Package credential holds the per-provider API credential pools and their
// quarantine state.
package credential

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCooldown is how long a rate-limited credential stays out of rotation.
const DefaultCooldown = 60 * time.Second

type State int

const (
	Available State = iota
	Quarantined
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Quarantined:
		return "quarantined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credential is one API identity for an upstream provider. The raw secret is
// never stored here, only a reference the secret store can resolve.
type Credential struct {
	ID        string
	Provider  string
	SecretRef string
}

// Status is a point-in-time copy of a credential and its mutable state.
type Status struct {
	Credential
	State         State
	QuarantinedAt time.Time
	ErrorCount    int
}

var ErrExhausted = errors.New("credential pool exhausted")

// ExhaustedError is returned by Select when no credential is available even
// after a recovery sweep.
type ExhaustedError struct {
	Provider string
	// RetryAfter is the time until the earliest quarantined credential
	// becomes eligible again. Zero when the pool is empty.
	RetryAfter time.Duration
}

func (e *ExhaustedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: no available credential for %s, retry after %.0fs", ErrExhausted, e.Provider, e.RetryAfter.Seconds())
	}
	return fmt.Sprintf("%s: no available credential for %s", ErrExhausted, e.Provider)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

type entry struct {
	cred          Credential
	state         State
	quarantinedAt time.Time
	errorCount    int
}

// Pool is the ordered credential list of one provider. The list is fixed at
// construction; only per-credential state changes, always under mu.
type Pool struct {
	provider string
	cooldown time.Duration
	now      func() time.Time

	onQuarantine func(Credential)
	onRecover    func(Credential)

	mu      sync.Mutex
	entries []*entry
}

type Option func(*Pool)

// WithCooldown sets the quarantine window.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithHooks registers callbacks fired after a credential enters or leaves
// quarantine. They run outside the pool lock.
func WithHooks(onQuarantine, onRecover func(Credential)) Option {
	return func(p *Pool) {
		p.onQuarantine = onQuarantine
		p.onRecover = onRecover
	}
}

func NewPool(provider string, creds []Credential, opts ...Option) *Pool {
	p := &Pool{
		provider: provider,
		cooldown: DefaultCooldown,
		now:      time.Now,
		entries:  make([]*entry, 0, len(creds)),
	}
	for _, o := range opts {
		o(p)
	}
	for _, c := range creds {
		c.Provider = provider
		p.entries = append(p.entries, &entry{cred: c})
	}
	return p
}

func (p *Pool) Provider() string { return p.provider }

// Size is the number of credentials, available or not.
func (p *Pool) Size() int { return len(p.entries) }

func (p *Pool) Cooldown() time.Duration { return p.cooldown }

// Select returns the first available credential scanning Size() positions
// from start, and the cursor to use for the next selection. When nothing is
// available it runs the recovery sweep and scans once more.
func (p *Pool) Select(start int) (Credential, int, error) {
	p.mu.Lock()
	i, ok := p.scanLocked(start)
	var recovered []Credential
	var retryAfter time.Duration
	if !ok {
		now := p.now()
		recovered = p.recoverLocked(now)
		i, ok = p.scanLocked(start)
		if !ok {
			retryAfter = p.retryAfterLocked(now)
		}
	}
	var cred Credential
	if ok {
		cred = p.entries[i].cred
	}
	n := len(p.entries)
	p.mu.Unlock()

	p.fire(p.onRecover, recovered)

	if !ok {
		return Credential{}, 0, &ExhaustedError{Provider: p.provider, RetryAfter: retryAfter}
	}
	return cred, (i + 1) % n, nil
}

func (p *Pool) scanLocked(start int) (int, bool) {
	n := len(p.entries)
	if n == 0 {
		return 0, false
	}
	start %= n
	if start < 0 {
		start += n
	}
	for step := 0; step < n; step++ {
		i := (start + step) % n
		if p.entries[i].state == Available {
			return i, true
		}
	}
	return 0, false
}

func (p *Pool) retryAfterLocked(now time.Time) time.Duration {
	var earliest time.Time
	for _, e := range p.entries {
		if e.state != Quarantined {
			continue
		}
		eligible := e.quarantinedAt.Add(p.cooldown)
		if earliest.IsZero() || eligible.Before(earliest) {
			earliest = eligible
		}
	}
	if earliest.IsZero() || !earliest.After(now) {
		return 0
	}
	return earliest.Sub(now)
}

// Snapshot returns the status of every credential in pool order.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, len(p.entries))
	for i, e := range p.entries {
		out[i] = Status{
			Credential:    e.cred,
			State:         e.state,
			QuarantinedAt: e.quarantinedAt,
			ErrorCount:    e.errorCount,
		}
	}
	return out
}

// Lookup returns the status of a single credential.
func (p *Pool) Lookup(id string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookupLocked(id)
	if e == nil {
		return Status{}, false
	}
	return Status{Credential: e.cred, State: e.state, QuarantinedAt: e.quarantinedAt, ErrorCount: e.errorCount}, true
}

func (p *Pool) lookupLocked(id string) *entry {
	for _, e := range p.entries {
		if e.cred.ID == id {
			return e
		}
	}
	return nil
}

func (p *Pool) fire(hook func(Credential), creds []Credential) {
	if hook == nil {
		return
	}
	for _, c := range creds {
		hook(c)
	}
}
