package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/gateway"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/hibiken/asynq"
)

const (
	TypeDispatch = "gateway:dispatch"
	QueueName    = "gateway"

	defaultMaxRetry  = 5
	defaultTimeout   = 2 * time.Minute
	defaultRetention = 24 * time.Hour
)

// DispatchPayload is the JSON body of a gateway:dispatch task.
type DispatchPayload struct {
	TenantID    string             `json:"tenant_id"`
	UserID      string             `json:"user_id,omitempty"`
	Provider    string             `json:"provider"`
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

func (p *DispatchPayload) request() *gateway.Request {
	return &gateway.Request{
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		Provider:    p.Provider,
		Model:       p.Model,
		Messages:    p.Messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
}

func NewDispatchTask(p *DispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeDispatch, data,
		asynq.Queue(QueueName),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
		asynq.Retention(defaultRetention),
	), nil
}

// JobResult is what a finished task stores as its asynq result.
type JobResult struct {
	ResponseID   string        `json:"id"`
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	CredentialID string        `json:"credential_id"`
	Attempts     int           `json:"attempts"`
	Usage        gateway.Usage `json:"usage"`
}

func newJobResult(res *gateway.Result) *JobResult {
	return &JobResult{
		ResponseID:   res.ResponseID,
		Content:      res.Content,
		Provider:     res.Provider,
		Model:        res.Model,
		CredentialID: res.CredentialID,
		Attempts:     res.Attempts,
		Usage:        res.Usage,
	}
}
