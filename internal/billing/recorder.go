package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Recorder persists usage records in the background. Record never blocks the
// caller: a full queue or a failing store loses the record, which is logged
// and counted.
type Recorder struct {
	store        Store
	logger       *zap.Logger
	dropped      prometheus.Counter
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *UsageRecord
	wg     sync.WaitGroup
	start  sync.Once
}

type RecorderOption func(*Recorder)

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan *UsageRecord, n)
		}
	}
}

func WithDropCounter(c prometheus.Counter) RecorderOption {
	return func(r *Recorder) { r.dropped = c }
}

func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

func NewRecorder(store Store, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:        store,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		queue:        make(chan *UsageRecord, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the writer goroutine. Calling it more than once is harmless.
func (r *Recorder) Start() {
	r.start.Do(func() {
		r.wg.Add(1)
		go r.writeLoop()
	})
}

// Record enqueues rec without blocking. It reports whether the record was
// accepted.
func (r *Recorder) Record(rec *UsageRecord) bool {
	if rec == nil {
		return false
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(rec, "recorder closed")
		return false
	}
	select {
	case r.queue <- rec:
		return true
	default:
		r.drop(rec, "usage queue full")
		return false
	}
}

// Close stops accepting records and waits for queued ones to be written, or
// for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	// a recorder that was never started still has to drain
	r.Start()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec *UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.LogUsage(ctx, rec); err != nil {
		r.logger.Warn("failed to persist usage record",
			zap.String("record_id", rec.ID),
			zap.String("tenant_id", rec.TenantID),
			zap.String("provider", rec.Provider),
			zap.Error(err),
		)
		if r.dropped != nil {
			r.dropped.Inc()
		}
	}
}

func (r *Recorder) drop(rec *UsageRecord, reason string) {
	r.logger.Warn("dropping usage record",
		zap.String("reason", reason),
		zap.String("tenant_id", rec.TenantID),
		zap.String("provider", rec.Provider),
		zap.String("model", rec.Model),
	)
	if r.dropped != nil {
		r.dropped.Inc()
	}
}
