package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/billing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/pricing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/ECHOITWEB/teampulse-sub005/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type Request struct {
	TenantID    string
	UserID      string
	Provider    string
	Model       string
	Messages    []provider.Message
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost_usd"`
}

type Result struct {
	ResponseID   string
	Content      string
	Usage        Usage
	Provider     string
	Model        string
	CredentialID string
	Attempts     int
	LatencyMs    int64
}

// Recorder receives one usage record per finished dispatch. It must not
// block.
type Recorder interface {
	Record(rec *billing.UsageRecord) bool
}

type Dispatcher struct {
	state    *State
	prices   *pricing.Table
	recorder Recorder
	breakers *breakers

	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	now     func() time.Time
	timeout time.Duration
	breaker BreakerSettings
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock replaces time.Now for latency measurement and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithTimeout bounds every dispatch, on top of any deadline the caller sets.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

func WithBreakerSettings(s BreakerSettings) Option {
	return func(d *Dispatcher) { d.breaker = s }
}

func NewDispatcher(state *State, prices *pricing.Table, recorder Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:    state,
		prices:   prices,
		recorder: recorder,
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("gateway"),
		now:      time.Now,
		breaker:  DefaultBreakerSettings,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.prices == nil {
		d.prices, _ = pricing.NewTable(nil, nil)
	}
	d.breakers = newBreakers(state.Providers(), d.breaker, d.logger)
	return d
}

func (d *Dispatcher) State() *State { return d.state }

// Dispatch sends req to the requested provider using the tenant's next
// credential. A rate-limited credential is quarantined and the request is
// retried on another one, at most once per credential in the pool. Any other
// upstream error is returned immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}
	up, _ := d.state.Upstream(req.Provider)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	ctx, span := d.tracer.Start(ctx, "gateway.Dispatch", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("llm.provider", req.Provider),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	log := d.logger.With(
		zap.String("tenant_id", req.TenantID),
		zap.String("provider", req.Provider),
		zap.String("model", req.Model),
	)

	started := d.now()
	preq := &provider.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	poolSize := up.Pool.Size()
	attempts := 0
	var lastErr error
	for attempt := 0; attempt < poolSize; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, d.contextFailure(span, log, req, "", attempts, started, err)
		}

		lease, err := d.state.Acquire(req.TenantID, req.Provider)
		if err != nil {
			var exhausted *credential.ExhaustedError
			if errors.As(err, &exhausted) {
				return nil, d.exhausted(span, log, req, attempts, exhausted.RetryAfter, started, lastErr)
			}
			return nil, d.internalFailure(span, log, req, attempts, started, err)
		}

		resp, err := d.attempt(ctx, lease, preq, attempt)
		if !isBreakerRejection(err) {
			attempts++
		}
		if err == nil {
			return d.success(span, log, req, lease, resp, attempts, started), nil
		}

		// the caller's context wins over whatever the transport reported
		if ctx.Err() != nil {
			return nil, d.contextFailure(span, log, req, lease.Credential.ID, attempts, started, ctx.Err())
		}

		if provider.IsRateLimited(err) {
			lastErr = err
			d.state.Quarantine(req.TenantID, req.Provider, lease.Credential.ID)
			log.Warn("credential rate limited, failing over",
				zap.String("credential_id", lease.Credential.ID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			continue
		}

		return nil, d.providerFailure(span, log, req, lease.Credential.ID, attempts, started, err)
	}

	return nil, d.exhausted(span, log, req, attempts, up.Pool.RetryAfter(), started, lastErr)
}

func (d *Dispatcher) validate(req *Request) error {
	if req == nil {
		return invalidRequest("request is required")
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return invalidRequest("tenant is required")
	}
	if _, ok := d.state.Upstream(req.Provider); !ok {
		return invalidRequest("unknown provider %q", req.Provider)
	}
	if strings.TrimSpace(req.Model) == "" {
		return invalidRequest("model is required")
	}
	if len(req.Messages) == 0 {
		return invalidRequest("messages must not be empty")
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, lease *Lease, preq *provider.Request, attempt int) (*provider.Response, error) {
	ctx, span := d.tracer.Start(ctx, "gateway.attempt", trace.WithAttributes(
		attribute.String("llm.provider", lease.Provider),
		attribute.String("credential.id", lease.Credential.ID),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	resp, err := d.breakers.execute(lease.Provider, func() (*provider.Response, error) {
		return lease.Client.Complete(ctx, preq)
	})

	outcome := "success"
	switch {
	case err == nil:
	case isBreakerRejection(err):
		outcome = "breaker_open"
	case provider.IsRateLimited(err):
		outcome = "rate_limited"
	case ctx.Err() != nil:
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	d.metrics.ProviderAttempt(lease.Provider, outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return resp, err
}

func (d *Dispatcher) success(span trace.Span, log *zap.Logger, req *Request, lease *Lease, resp *provider.Response, attempts int, started time.Time) *Result {
	latency := d.now().Sub(started)
	cost := d.prices.Compute(req.Provider, req.Model, resp.InputTokens, resp.OutputTokens)

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	result := &Result{
		ResponseID: resp.ID,
		Content:    resp.Content,
		Usage: Usage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalTokens:  resp.InputTokens + resp.OutputTokens,
			Cost:         cost,
		},
		Provider:     req.Provider,
		Model:        model,
		CredentialID: lease.Credential.ID,
		Attempts:     attempts,
		LatencyMs:    latency.Milliseconds(),
	}

	d.record(req, billing.StatusSuccess, lease.Credential.ID, resp.InputTokens, resp.OutputTokens, cost, attempts, latency)
	d.metrics.ObserveDispatch(req.Provider, string(billing.StatusSuccess), latency)

	span.SetAttributes(
		attribute.String("credential.id", lease.Credential.ID),
		attribute.Int("attempts", attempts),
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
		attribute.Float64("llm.cost_usd", cost),
	)
	log.Debug("dispatch completed",
		zap.String("credential_id", lease.Credential.ID),
		zap.Int("attempts", attempts),
		zap.Duration("latency", latency),
	)
	return result
}

func (d *Dispatcher) exhausted(span trace.Span, log *zap.Logger, req *Request, attempts int, retryAfter time.Duration, started time.Time, cause error) error {
	latency := d.now().Sub(started)
	d.record(req, billing.StatusCapacityExhausted, "", 0, 0, 0, attempts, latency)
	d.metrics.ObserveDispatch(req.Provider, string(billing.StatusCapacityExhausted), latency)

	log.Warn("no credential available",
		zap.Int("attempts", attempts),
		zap.Duration("retry_after", retryAfter),
	)
	gerr := &Error{
		Kind:       KindCapacityExhausted,
		Provider:   req.Provider,
		Attempts:   attempts,
		RetryAfter: retryAfter,
		Message:    "all credentials are rate limited",
		Err:        cause,
	}
	span.RecordError(gerr)
	span.SetStatus(codes.Error, string(gerr.Kind))
	return gerr
}

func (d *Dispatcher) providerFailure(span trace.Span, log *zap.Logger, req *Request, credID string, attempts int, started time.Time, err error) error {
	latency := d.now().Sub(started)
	d.record(req, billing.StatusProviderError, credID, 0, 0, 0, attempts, latency)
	d.metrics.ObserveDispatch(req.Provider, string(billing.StatusProviderError), latency)

	gerr := &Error{
		Kind:     KindProviderError,
		Provider: req.Provider,
		Attempts: attempts,
		Err:      err,
	}
	var pe *provider.Error
	switch {
	case errors.As(err, &pe):
		gerr.StatusCode = pe.StatusCode
		gerr.Message = pe.Message
	case isBreakerRejection(err):
		gerr.Message = "provider temporarily unavailable"
	}

	log.Error("provider call failed",
		zap.String("credential_id", credID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(gerr.Kind))
	return gerr
}

// contextFailure handles a caller deadline or cancellation. A deadline is
// recorded as a timeout; a cancellation leaves no usage record.
func (d *Dispatcher) contextFailure(span trace.Span, log *zap.Logger, req *Request, credID string, attempts int, started time.Time, err error) error {
	latency := d.now().Sub(started)
	kind := KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
		d.record(req, billing.StatusTimeout, credID, 0, 0, 0, attempts, latency)
		d.metrics.ObserveDispatch(req.Provider, string(billing.StatusTimeout), latency)
		log.Warn("dispatch timed out", zap.Int("attempts", attempts), zap.Duration("latency", latency))
	} else {
		d.metrics.ObserveDispatch(req.Provider, string(KindCancelled), latency)
		log.Info("dispatch cancelled by caller", zap.Int("attempts", attempts))
	}

	gerr := &Error{Kind: kind, Provider: req.Provider, Attempts: attempts, Err: err}
	span.RecordError(gerr)
	span.SetStatus(codes.Error, string(kind))
	return gerr
}

// internalFailure covers gateway-side faults such as an unresolvable secret.
// The request did reach a terminal outcome, so it is recorded against the
// provider.
func (d *Dispatcher) internalFailure(span trace.Span, log *zap.Logger, req *Request, attempts int, started time.Time, err error) error {
	latency := d.now().Sub(started)
	d.record(req, billing.StatusProviderError, "", 0, 0, 0, attempts, latency)
	d.metrics.ObserveDispatch(req.Provider, string(KindInternal), latency)

	log.Error("dispatch failed inside the gateway", zap.Error(err))
	gerr := &Error{Kind: KindInternal, Provider: req.Provider, Attempts: attempts, Err: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(gerr.Kind))
	return gerr
}

func (d *Dispatcher) record(req *Request, status billing.Status, credID string, in, out int, cost float64, attempts int, latency time.Duration) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(&billing.UsageRecord{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Provider:     req.Provider,
		Model:        req.Model,
		CredentialID: credID,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      cost,
		LatencyMs:    latency.Milliseconds(),
		Status:       status,
		Attempts:     attempts,
		CreatedAt:    d.now().UTC(),
	})
}
