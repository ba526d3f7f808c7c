package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls how the Hub calls its sinks.
//   - SinkTimeout: per-sink timeout for each Consume call (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const defaultSinkTimeout = 10 * time.Second

// Hub fans events out to registered sinks on the caller's goroutine, so sinks
// observe events in emission order. A failing sink is logged and skipped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
	closed atomic.Bool
	failed atomic.Int64

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewHub initializes a Hub for the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
	}
}

// Emit validates evt and delivers it to every sink before returning.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	batch := []Event{evt}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.failed.Add(1)
			h.logger.Warn("progress sink consume failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
		}
		cancel()
	}
}

// Failures returns how many sink deliveries have failed so far.
func (h *Hub) Failures() int64 {
	return h.failed.Load()
}

// Close closes every sink once. Later calls and later Emits are no-ops.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var firstErr error
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, sink := range h.sinks {
			if sink == nil {
				continue
			}
			if err := sink.Close(ctx); err != nil {
				h.logger.Warn("progress sink close failed", zap.Error(err))
				if firstErr == nil {
					firstErr = fmt.Errorf("close progress sink: %w", err)
				}
			}
		}
	})
	return firstErr
}
