package gateway

import (
	"fmt"

	"github.com/ECHOITWEB/teampulse-sub005/config"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/pricing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider/claude"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider/gemini"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider/openai"
	"github.com/ECHOITWEB/teampulse-sub005/internal/secrets"
	"github.com/ECHOITWEB/teampulse-sub005/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultFactories maps provider types to their client constructors.
func DefaultFactories() map[string]provider.Factory {
	return map[string]provider.Factory{
		"openai": openai.New,
		"claude": claude.New,
		"gemini": gemini.New,
	}
}

// BuildOptions carries what BuildState needs besides the file itself.
type BuildOptions struct {
	Factories   map[string]provider.Factory // nil selects DefaultFactories
	Secrets     secrets.Store
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	PoolOptions []credential.Option
	StateOpts   []StateOption
}

// BuildState turns the gateway file into pools and upstreams. Every secret
// reference is resolved once up front so a bad reference fails startup
// rather than the first request.
func BuildState(file *config.GatewayFile, opts BuildOptions) (*State, error) {
	if opts.Secrets == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	factories := opts.Factories
	if factories == nil {
		factories = DefaultFactories()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics

	upstreams := make([]*Upstream, 0, len(file.Providers))
	for _, pc := range file.Providers {
		typ := pc.Type
		if typ == "" {
			typ = pc.Name
		}
		factory, ok := factories[typ]
		if !ok {
			return nil, fmt.Errorf("provider %s: unsupported type %q", pc.Name, typ)
		}

		creds := make([]credential.Credential, 0, len(pc.Credentials))
		for _, cc := range pc.Credentials {
			if _, err := opts.Secrets.Resolve(cc.SecretRef); err != nil {
				return nil, fmt.Errorf("provider %s credential %s: %w", pc.Name, cc.ID, err)
			}
			creds = append(creds, credential.Credential{ID: cc.ID, SecretRef: cc.SecretRef})
		}

		name := pc.Name
		hooks := credential.WithHooks(
			func(c credential.Credential) {
				metrics.Quarantined(name)
				logger.Warn("credential quarantined",
					zap.String("provider", name),
					zap.String("credential_id", c.ID),
				)
			},
			func(c credential.Credential) {
				metrics.Recovered(name)
				logger.Info("credential recovered",
					zap.String("provider", name),
					zap.String("credential_id", c.ID),
				)
			},
		)
		poolOpts := append([]credential.Option{hooks}, opts.PoolOptions...)

		upstreams = append(upstreams, &Upstream{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			Factory: factory,
			Pool:    credential.NewPool(pc.Name, creds, poolOpts...),
		})
	}

	return NewState(upstreams, opts.Secrets, opts.StateOpts...)
}

// BuildPricing turns the pricing section into a table.
func BuildPricing(file *config.GatewayFile) (*pricing.Table, error) {
	rows := make([]pricing.Row, 0, len(file.Pricing.Models))
	for _, m := range file.Pricing.Models {
		rows = append(rows, pricing.Row{
			Provider:    m.Provider,
			Model:       m.Model,
			InputPer1K:  m.InputPer1K,
			OutputPer1K: m.OutputPer1K,
		})
	}
	var def *pricing.Row
	if d := file.Pricing.Default; d != nil {
		def = &pricing.Row{InputPer1K: d.InputPer1K, OutputPer1K: d.OutputPer1K}
	}
	return pricing.NewTable(rows, def)
}
