package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/gateway"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req *gateway.Request) (*gateway.Result, error)
}

type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewHandler(dispatcher Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// ProcessTask runs one queued dispatch. Failures that a later attempt could
// fix are returned as is so asynq schedules a retry; everything else is
// marked with asynq.SkipRetry.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DispatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		zap.String("tenant_id", p.TenantID),
		zap.String("provider", p.Provider),
		zap.String("model", p.Model),
	)

	res, err := h.dispatcher.Dispatch(ctx, p.request())
	if err != nil {
		if !Retryable(err) {
			log.Warn("queued dispatch failed permanently", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Info("queued dispatch will be retried", zap.Error(err))
		return err
	}

	if w := t.ResultWriter(); w != nil {
		data, err := json.Marshal(newJobResult(res))
		if err != nil {
			return fmt.Errorf("marshal result failed: %v: %w", err, asynq.SkipRetry)
		}
		if _, err := w.Write(data); err != nil {
			// the dispatch already ran and was billed, so do not retry it
			log.Error("failed to store job result", zap.Error(err))
		}
	}

	log.Info("queued dispatch completed",
		zap.String("credential_id", res.CredentialID),
		zap.Int("attempts", res.Attempts),
	)
	return nil
}

// Retryable reports whether a dispatch error is worth another queue attempt.
func Retryable(err error) bool {
	switch gateway.KindOf(err) {
	case gateway.KindCapacityExhausted, gateway.KindTimeout, gateway.KindInternal:
		return true
	}
	return false
}

// RetryDelay honours the pool's recovery hint for capacity_exhausted and
// falls back to asynq's exponential backoff otherwise.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	var ge *gateway.Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		return ge.RetryAfter
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}
