package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and flush cadence for the Hub.
type Config struct {
	// BufferSize is the capacity of the internal event channel (default 4096).
	BufferSize int
	// FlushCount flushes once this many events are pending (default 512).
	FlushCount int
	// FlushInterval bounds how long the oldest pending event may wait before a
	// flush (default 250ms).
	FlushInterval time.Duration
	// SinkTimeout bounds each sink call during a flush (default 10s).
	SinkTimeout time.Duration
	// BaseContext is the parent context for sink calls (defaults to context.Background()).
	BaseContext context.Context
	// Logger is an optional structured logger used for warnings.
	Logger *zap.Logger
}

const (
	defaultBufferSize    = 4096
	defaultFlushCount    = 512
	defaultFlushInterval = 250 * time.Millisecond
	defaultSinkTimeout   = 10 * time.Second
	dropWarnInterval     = 5 * time.Second
)

// Hub aggregates Event streams and fans them out to registered sinks. It is
// safe for concurrent use by multiple goroutines and never blocks callers.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropped  atomic.Int64
	nextWarn atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushCount <= 0 {
		cfg.FlushCount = defaultFlushCount
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
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
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. It never blocks; if the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.noteDrop()
	}
}

// Close drains remaining events, flushes sinks, and blocks until the background
// goroutine exits. It is safe to call multiple times; subsequent calls are
// ignored once shutdown begins.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	deadline := newFlushTimer(h.cfg.FlushInterval)
	pending := make([]Event, 0, h.cfg.FlushCount)
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.FlushCount {
				pending = h.flush(pending)
				deadline.Disarm()
			} else {
				deadline.Arm()
			}
		case <-deadline.C():
			deadline.Fired()
			pending = h.flush(pending)
		case <-h.stopCh:
			deadline.Disarm()
			h.shutdown(pending)
			return
		}
	}
}

// shutdown drains whatever is still buffered, flushes it, and closes sinks.
func (h *Hub) shutdown(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.FlushCount {
				pending = h.flush(pending)
			}
		default:
			h.flush(pending)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of the pending events to every sink and resets the slice.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	events := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		h.consume(sink, events)
	}
	return pending[:0]
}

func (h *Hub) consume(sink Sink, events []Event) {
	ctx := h.cfg.BaseContext
	if h.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.SinkTimeout)
		defer cancel()
	}
	if err := sink.Consume(ctx, events); err != nil {
		h.logger.Warn("progress sink consume failed", zap.Error(err))
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// noteDrop counts a dropped event and logs at most one warning per
// dropWarnInterval so a saturated buffer cannot flood the log.
func (h *Hub) noteDrop() {
	h.dropped.Add(1)
	now := time.Now().UnixNano()
	next := h.nextWarn.Load()
	if now < next || !h.nextWarn.CompareAndSwap(next, now+dropWarnInterval.Nanoseconds()) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
}

// flushTimer schedules a single pending flush deadline. The deadline is fixed
// from the first buffered event rather than sliding with later arrivals, so a
// steady trickle of events cannot defer flushing indefinitely.
type flushTimer struct {
	timer  *time.Timer
	period time.Duration
	armed  bool
}

func newFlushTimer(period time.Duration) *flushTimer {
	t := time.NewTimer(period)
	if !t.Stop() {
		<-t.C
	}
	return &flushTimer{timer: t, period: period}
}

func (t *flushTimer) C() <-chan time.Time { return t.timer.C }

// Arm schedules a flush if none is pending.
func (t *flushTimer) Arm() {
	if t.armed || t.period <= 0 {
		return
	}
	t.timer.Reset(t.period)
	t.armed = true
}

// Fired marks the pending deadline consumed after its tick was received.
func (t *flushTimer) Fired() { t.armed = false }

// Disarm cancels a pending deadline and clears any stale tick.
func (t *flushTimer) Disarm() {
	if !t.armed {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.armed = false
}
