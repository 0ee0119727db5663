// File: internal/observability/telemetry.go
package observability

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// ZapTelemetry writes every event to a logger.
type ZapTelemetry struct {
	logger *zap.Logger
}

// NewZapTelemetry creates a sink logging under the "telemetry" name.
func NewZapTelemetry(logger *zap.Logger) *ZapTelemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapTelemetry{logger: logger.Named("telemetry")}
}

// Emit implements schemas.Telemetry.
func (z *ZapTelemetry) Emit(e schemas.Event) {
	level := zapcore.InfoLevel
	switch e.Type {
	case schemas.EventBreakProgress, schemas.EventOutcome:
		level = zapcore.DebugLevel
	case schemas.EventConfirmationTimeout:
		level = zapcore.WarnLevel
	}
	ce := z.logger.Check(level, string(e.Type))
	if ce == nil {
		return
	}

	fields := []zap.Field{zap.Time("at", e.Time)}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if c := e.Classification; c != nil {
		fields = append(fields,
			zap.Int("scanned", c.Scanned),
			zap.Int("invisible", c.Invisible),
			zap.Int("followable", c.Followable),
			zap.Int("active", c.Active),
			zap.Int("pending", c.Pending),
			zap.Int("unknown", c.Unknown),
		)
	}
	if q := e.Quota; q != nil {
		fields = append(fields,
			zap.Int("daily", q.DailyCount),
			zap.Int("daily_limit", q.DailyLimit),
			zap.Int("hourly", q.HourlyCount),
			zap.Int("hourly_limit", q.HourlyLimit),
			zap.Int("lifetime", q.LifetimeCount),
			zap.Int("session", q.SessionCount),
		)
	}
	if b := e.Break; b != nil {
		fields = append(fields,
			zap.String("kind", string(b.Kind)),
			zap.Duration("total", b.Total),
			zap.Duration("remaining", b.Remaining),
		)
	}
	if o := e.Outcome; o != nil {
		fields = append(fields,
			zap.String("handle", o.HandleID),
			zap.Stringer("outcome", o.Kind),
			zap.Stringer("status", o.Status),
		)
		if o.Error != "" {
			fields = append(fields, zap.String("error", o.Error))
		}
	}
	if s := e.Summary; s != nil {
		fields = append(fields, zap.Any("summary", s))
	}
	ce.Write(fields...)
}

// MemoryTelemetry keeps every event in memory.
type MemoryTelemetry struct {
	mu     sync.Mutex
	events []schemas.Event
}

// NewMemoryTelemetry creates an empty in-memory sink.
func NewMemoryTelemetry() *MemoryTelemetry {
	return &MemoryTelemetry{}
}

// Emit implements schemas.Telemetry.
func (m *MemoryTelemetry) Emit(e schemas.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of the events received so far.
func (m *MemoryTelemetry) Events() []schemas.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.Event(nil), m.events...)
}

// OfType returns the events of one type, in order.
func (m *MemoryTelemetry) OfType(t schemas.EventType) []schemas.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the type of every event, in order.
func (m *MemoryTelemetry) Types() []schemas.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// AsyncTelemetry forwards events to another sink from a background
// goroutine. Emit never blocks: when the queue is full the event is dropped.
type AsyncTelemetry struct {
	next    schemas.Telemetry
	queue   chan schemas.Event
	done    chan struct{}
	dropped atomic.Int64

	// mu guards closed against a concurrent Close.
	mu     sync.RWMutex
	closed bool
}

// NewAsyncTelemetry starts the forwarding goroutine. Close must be called to
// stop it.
func NewAsyncTelemetry(next schemas.Telemetry, size int) *AsyncTelemetry {
	if size <= 0 {
		size = 1
	}
	a := &AsyncTelemetry{
		next:  next,
		queue: make(chan schemas.Event, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncTelemetry) run() {
	defer close(a.done)
	for e := range a.queue {
		a.next.Emit(e)
	}
}

// Emit implements schemas.Telemetry.
func (a *AsyncTelemetry) Emit(e schemas.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the queue was full.
func (a *AsyncTelemetry) Dropped() int {
	return int(a.dropped.Load())
}

// Close stops accepting events, delivers the queued ones and waits for the
// goroutine to exit. It is safe to call more than once.
func (a *AsyncTelemetry) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
