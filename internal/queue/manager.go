package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/router"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

var (
	// ErrHandlerMissing means the manager was wired without a ProcessFunc.
	// A configuration bug, not a runtime condition.
	ErrHandlerMissing = errors.New("queue: no process handler configured")

	// ErrManagerStarted is returned by Start when the tick loop is already running.
	ErrManagerStarted = errors.New("queue: manager already started")
)

// Canned degraded responses for the soft admission failures. Callers render
// these directly to the user.
const (
	rateLimitedText = "You're sending messages too quickly. Please wait a moment and try again."
	queueFullText   = "The system is at capacity right now. Please try again shortly."
)

// ProcessFunc is the opaque processing handler — the agent runtime. The
// manager knows nothing about its internals.
type ProcessFunc func(ctx context.Context, item *Item) (*Response, error)

// ManagerConfig tunes one Manager instance.
type ManagerConfig struct {
	// MaxQueueSize bounds the pending heap; submissions beyond it get the
	// canned at-capacity response.
	MaxQueueSize int
	// QueueEnabled false makes Submit process synchronously, bypassing the
	// heap and tick loop entirely.
	QueueEnabled bool
	// TickInterval is the dequeue cadence; one item is processed per tick.
	TickInterval time.Duration
}

// DefaultManagerConfig mirrors the documented defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxQueueSize: 100,
		QueueEnabled: true,
		TickInterval: 500 * time.Millisecond,
	}
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Enqueued    uint64 `json:"enqueued"`
	Processed   uint64 `json:"processed"`
	Succeeded   uint64 `json:"succeeded"`
	Failed      uint64 `json:"failed"`
	RateLimited uint64 `json:"rateLimited"`
	QueueFull   uint64 `json:"queueFull"`
	Pending     int    `json:"pending"`
	Processing  int64  `json:"processing"`
}

// Manager owns the submit → enqueue → dequeue → process lifecycle. Submit
// may be called from many goroutines; a single tick goroutine performs all
// dequeues, so at most one item is in processing per Manager.
type Manager struct {
	cfg     ManagerConfig
	limiter *RateLimiter
	process ProcessFunc

	mu sync.Mutex
	q  *MessageQueue

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	submitted   atomic.Uint64
	enqueued    atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	queueFull   atomic.Uint64
	processing  atomic.Int64
}

// NewManager wires a manager. process may be nil only in tests exercising
// the HandlerMissing path.
func NewManager(cfg ManagerConfig, limiter *RateLimiter, process ProcessFunc) *Manager {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultManagerConfig().MaxQueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultManagerConfig().TickInterval
	}
	return &Manager{
		cfg:     cfg,
		limiter: limiter,
		process: process,
		q:       NewMessageQueue(),
	}
}

// Submit admits one message and returns its completion future. The channel
// receives exactly one Result: a canned degraded response (rate limited,
// at capacity), the handler's response, or the handler's error. Admission
// itself never errors.
func (m *Manager) Submit(sess *session.Session, msg bus.InboundMessage, decision *router.Decision) <-chan Result {
	m.submitted.Add(1)

	item := &Item{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Message:  msg,
		Session:  sess,
		Priority: sess.Priority,
		Routing:  decision,
		done:     make(chan Result, 1),
	}
	if decision != nil && decision.Priority != 0 {
		item.Priority = decision.Priority
	}

	if !m.limiter.TryAcquire(sess.ID, sess.Quotas) {
		m.rateLimited.Add(1)
		slog.Debug("submit rejected: rate limited", "session", sess.ID)
		item.resolve(Result{Response: &Response{
			Text:     rateLimitedText,
			Metadata: map[string]string{"rateLimited": "true"},
		}})
		return item.done
	}

	// Queue disabled: process synchronously on the caller's goroutine.
	if !m.cfg.QueueEnabled {
		m.processItem(context.Background(), item)
		return item.done
	}

	m.mu.Lock()
	if m.q.Size() >= m.cfg.MaxQueueSize {
		m.mu.Unlock()
		// Give back the slot acquired above — the item never runs.
		m.limiter.Release(sess.ID)
		m.queueFull.Add(1)
		slog.Warn("submit rejected: queue full", "session", sess.ID, "max", m.cfg.MaxQueueSize)
		item.resolve(Result{Response: &Response{
			Text:     queueFullText,
			Metadata: map[string]string{"queueFull": "true"},
		}})
		return item.done
	}
	item.EnqueuedAt = time.Now()
	m.q.Enqueue(item)
	m.mu.Unlock()

	m.enqueued.Add(1)
	return item.done
}

// Start launches the tick loop: every interval, at most one pending item is
// dequeued and processed. Returns ErrManagerStarted if already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.tickLoop(ctx)
	return nil
}

// Stop halts the tick loop. In-flight processing runs to completion;
// pending items stay queued (their futures resolve only if Start is called
// again or the process exits).
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("queue manager started", "interval", m.cfg.TickInterval, "max_queue", m.cfg.MaxQueueSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("queue manager stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			item := m.q.Dequeue()
			m.mu.Unlock()
			if item == nil {
				continue
			}
			m.processItem(ctx, item)
		}
	}
}

// processItem invokes the handler and resolves the item's future. The
// processing gauge and the session's rate-limit slot are always returned,
// whatever the outcome.
func (m *Manager) processItem(ctx context.Context, item *Item) {
	m.processing.Add(1)
	m.processed.Add(1)

	ctx, span := m.startSpan(ctx, item)

	defer func() {
		m.processing.Add(-1)
		m.limiter.Release(item.Session.ID)
		span.End()

		// A panicking handler fails this item only; the tick loop survives.
		if r := recover(); r != nil {
			m.failed.Add(1)
			err := fmt.Errorf("handler panic: %v", r)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("handler panicked", "item", item.ID, "session", item.Session.ID, "panic", r)
			item.resolve(Result{Err: err})
		}
	}()

	if m.process == nil {
		m.failed.Add(1)
		span.SetStatus(codes.Error, ErrHandlerMissing.Error())
		slog.Error("no process handler configured", "item", item.ID)
		item.resolve(Result{Err: ErrHandlerMissing})
		return
	}

	resp, err := m.process(ctx, item)
	if err != nil {
		m.failed.Add(1)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("handler failed", "item", item.ID, "session", item.Session.ID, "error", err)
		item.resolve(Result{Err: err})
		return
	}

	m.succeeded.Add(1)
	item.resolve(Result{Response: resp})
}

func (m *Manager) startSpan(ctx context.Context, item *Item) (context.Context, trace.Span) {
	tracer := otel.Tracer("relaygate/queue")
	ctx, span := tracer.Start(ctx, "queue.process",
		trace.WithAttributes(
			attribute.String("item.id", item.ID),
			attribute.String("session.id", item.Session.ID),
			attribute.Int("item.priority", item.Priority),
		))
	if item.Routing != nil {
		span.SetAttributes(attribute.String("routing.agent", item.Routing.AgentName))
	}
	return ctx, span
}

// Size returns the number of pending items.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Size()
}

// Stats snapshots the manager's counters and gauges.
func (m *Manager) Stats() Stats {
	return Stats{
		Submitted:   m.submitted.Load(),
		Enqueued:    m.enqueued.Load(),
		Processed:   m.processed.Load(),
		Succeeded:   m.succeeded.Load(),
		Failed:      m.failed.Load(),
		RateLimited: m.rateLimited.Load(),
		QueueFull:   m.queueFull.Load(),
		Pending:     m.Size(),
		Processing:  m.processing.Load(),
	}
}
