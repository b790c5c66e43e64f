package billing

import (
	"context"
	"time"
)

type Status string

const (
	StatusSuccess           Status = "success"
	StatusProviderError     Status = "provider_error"
	StatusCapacityExhausted Status = "capacity_exhausted"
	StatusTimeout           Status = "timeout"
)

// UsageRecord is one completed dispatch. Records are append-only.
type UsageRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CredentialID string    `json:"credential_id,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	LogUsage(ctx context.Context, rec *UsageRecord) error
	GetUsageByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageRecord, error)
	GetTotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
}
