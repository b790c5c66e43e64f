// Package secrets resolves credential references from configuration into
// the API keys handed to provider clients.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotFound = errors.New("secret not found")

// Store resolves a reference such as "env:OPENAI_KEY_1" to its value.
type Store interface {
	Resolve(ref string) (string, error)
}

// EnvStore reads secrets from the process environment. Supported refs are
// "env:NAME", "literal:VALUE" and a bare "NAME" (treated as env).
type EnvStore struct {
	lookup func(string) (string, bool)
}

func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

func (s *EnvStore) Resolve(ref string) (string, error) {
	scheme, name, ok := strings.Cut(ref, ":")
	if !ok {
		scheme, name = "env", ref
	}
	switch scheme {
	case "literal":
		return name, nil
	case "env":
		if name == "" {
			return "", fmt.Errorf("empty env secret reference")
		}
		v, found := s.lookup(name)
		if !found || v == "" {
			return "", fmt.Errorf("%w: env %s", ErrNotFound, name)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unsupported secret scheme %q", scheme)
	}
}

// MapStore is a fixed in-memory store keyed by the full reference.
type MapStore map[string]string

func (m MapStore) Resolve(ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return v, nil
}
