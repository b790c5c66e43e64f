package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

var ErrJobNotFound = errors.New("job not found")

// JobInfo is the caller-visible view of a queued dispatch.
type JobInfo struct {
	ID        string          `json:"id"`
	State     string          `json:"state"`
	Retried   int             `json:"retried"`
	LastError string          `json:"last_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewClient(redisAddr string) *Client {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Enqueue schedules a dispatch and returns the task id.
func (c *Client) Enqueue(ctx context.Context, p *DispatchPayload) (string, error) {
	task, err := NewDispatchTask(p)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return info.ID, nil
}

// Lookup returns the job with the given id if it belongs to tenantID.
func (c *Client) Lookup(tenantID, id string) (*JobInfo, error) {
	info, err := c.inspector.GetTaskInfo(QueueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("inspect task failed: %w", err)
	}

	var p DispatchPayload
	if err := json.Unmarshal(info.Payload, &p); err != nil || p.TenantID != tenantID {
		return nil, ErrJobNotFound
	}

	job := &JobInfo{
		ID:        info.ID,
		State:     info.State.String(),
		Retried:   info.Retried,
		LastError: info.LastErr,
	}
	if len(info.Result) > 0 {
		job.Result = json.RawMessage(info.Result)
	}
	return job, nil
}

func (c *Client) Close() error {
	if err := c.inspector.Close(); err != nil {
		_ = c.client.Close()
		return err
	}
	return c.client.Close()
}
