// File: internal/humanoid/humanoid.go
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// Pacer implements schemas.Delayer. It draws human-like pause lengths from
// configured ranges and sleeps on its Clock.
type Pacer struct {
	// mu protects rng, which is not safe for concurrent use.
	mu     sync.Mutex
	rng    *rand.Rand
	clock  Clock
	logger *zap.Logger
}

var _ schemas.Delayer = (*Pacer)(nil)

// New creates a Pacer. A nil rng is replaced by one seeded from the current time.
func New(clock Clock, rng *rand.Rand, logger *zap.Logger) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pacer{
		rng:    rng,
		clock:  clock,
		logger: logger.Named("pacer"),
	}
}

// NewTestPacer creates a Pacer with a deterministic RNG on the given clock.
func NewTestPacer(clock Clock, seed int64) *Pacer {
	return New(clock, rand.New(rand.NewSource(seed)), zap.NewNop())
}

// Pick draws a duration uniformly from the inclusive range r at millisecond
// granularity. Ranges narrower than a millisecond return r.Min.
func (p *Pacer) Pick(r schemas.DurationRange) time.Duration {
	r = r.Normalize()
	spanMs := int64((r.Max - r.Min) / time.Millisecond)
	if spanMs <= 0 {
		return r.Min
	}

	p.mu.Lock()
	offset := p.rng.Int63n(spanMs + 1)
	p.mu.Unlock()

	return r.Min + time.Duration(offset)*time.Millisecond
}

// Suspend sleeps for a duration drawn from r.
func (p *Pacer) Suspend(ctx context.Context, r schemas.DurationRange) error {
	d := p.Pick(r)
	p.logger.Debug("Suspending.", zap.Duration("duration", d))
	return p.Sleep(ctx, d)
}

// Sleep pauses for exactly d on the pacer's clock.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	return p.clock.Sleep(ctx, d)
}
