package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GatewayFile is the static provider and pricing configuration. It is read
// once at startup; pools are fixed for the lifetime of the process.
type GatewayFile struct {
	Providers []ProviderConfig `yaml:"providers"`
	Pricing   PricingConfig    `yaml:"pricing"`
}

// ProviderConfig describes one upstream and its ordered credential pool.
type ProviderConfig struct {
	// Name is how callers address the provider, e.g. "openai" or "openai-eu".
	Name string `yaml:"name"`

	// Type selects the client implementation: openai, claude or gemini.
	// Defaults to Name.
	Type string `yaml:"type,omitempty"`

	// BaseURL overrides the client's default endpoint.
	BaseURL string `yaml:"base-url,omitempty"`

	Credentials []CredentialConfig `yaml:"credentials"`
}

type CredentialConfig struct {
	ID string `yaml:"id"`

	// SecretRef is resolved through the secret store, e.g. "env:OPENAI_KEY_1".
	SecretRef string `yaml:"secret-ref"`
}

type PricingConfig struct {
	Default *PriceConfig  `yaml:"default,omitempty"`
	Models  []PriceConfig `yaml:"models,omitempty"`
}

// PriceConfig holds USD prices per 1000 tokens.
type PriceConfig struct {
	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	InputPer1K  float64 `yaml:"input-per-1k"`
	OutputPer1K float64 `yaml:"output-per-1k"`
}

// LoadGatewayFile reads and validates the gateway file at path.
func LoadGatewayFile(path string) (*GatewayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config %s: %w", path, err)
	}
	return ParseGatewayFile(data)
}

// ParseGatewayFile decodes YAML, rejecting unknown keys.
func ParseGatewayFile(data []byte) (*GatewayFile, error) {
	var f GatewayFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}
	for i := range f.Providers {
		if f.Providers[i].Type == "" {
			f.Providers[i].Type = f.Providers[i].Name
		}
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	return &f, nil
}

func (f *GatewayFile) Validate() error {
	if len(f.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	names := make(map[string]struct{}, len(f.Providers))
	credIDs := make(map[string]struct{})
	for _, p := range f.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		names[p.Name] = struct{}{}

		if len(p.Credentials) == 0 {
			return fmt.Errorf("provider %q has no credentials", p.Name)
		}
		for _, c := range p.Credentials {
			if c.ID == "" || c.SecretRef == "" {
				return fmt.Errorf("provider %q: credential id and secret-ref are required", p.Name)
			}
			if _, dup := credIDs[c.ID]; dup {
				return fmt.Errorf("duplicate credential id %q", c.ID)
			}
			credIDs[c.ID] = struct{}{}
		}
	}

	if d := f.Pricing.Default; d != nil {
		if d.InputPer1K < 0 || d.OutputPer1K < 0 {
			return fmt.Errorf("default price must not be negative")
		}
	}
	for _, m := range f.Pricing.Models {
		if m.Provider == "" || m.Model == "" {
			return fmt.Errorf("pricing rows need provider and model")
		}
		if m.InputPer1K < 0 || m.OutputPer1K < 0 {
			return fmt.Errorf("price for %s/%s must not be negative", m.Provider, m.Model)
		}
	}
	return nil
}
