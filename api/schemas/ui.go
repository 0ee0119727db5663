// File: api/schemas/ui.go
package schemas

import (
	"context"
	"time"
)

// -- Element Schemas --

// ElementHandle is an opaque reference to one UI element produced by a scan pass.
// Handles are ephemeral: they are only valid for the pass that produced them and
// carry no stable identity across passes.
type ElementHandle interface {
	HandleID() string
}

// Geometry captures the visibility relevant layout facts about an element.
type Geometry struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	// Hidden is true when the computed style hides the element (display, visibility, opacity).
	Hidden bool `json:"hidden"`
}

// Visible reports whether the element has a renderable, non hidden box.
func (g Geometry) Visible() bool {
	return !g.Hidden && g.Width > 0 && g.Height > 0
}

// RawSignals is the unnormalized, multi source description of a single element
// as read from the UI. The Signal Extractor turns it into a normalized bag.
type RawSignals struct {
	Text           string            `json:"text"`
	NestedText     string            `json:"nestedText"`
	AccessibleName string            `json:"ariaLabel"`
	Title          string            `json:"title"`
	Classes        []string          `json:"classes"`
	DataAttributes map[string]string `json:"data"`
	// ParentText is the text of the enclosing row with the element's own
	// subtree removed, so it stays the same when the element's label changes.
	ParentText  string   `json:"parentText"`
	SiblingText []string `json:"siblingText"`
	Geometry    Geometry `json:"geometry"`
}

// -- Collaborator Interfaces --

// UISource is the UI collaborator the core drives. Implementations wrap a real
// browser (internal/browser) or an in-memory model (internal/uisim).
type UISource interface {
	// Enumerate lists the currently rendered candidate elements in discovery order.
	Enumerate(ctx context.Context) ([]ElementHandle, error)
	// ReadSignals reads the current descriptive signals of one element.
	ReadSignals(ctx context.Context, h ElementHandle) (RawSignals, error)
	// IsVisible reports whether the element still has a visible box.
	IsVisible(ctx context.Context, h ElementHandle) (bool, error)
	// Trigger performs the primary, state changing interaction on the element.
	Trigger(ctx context.Context, h ElementHandle) error
	// ScrollForMore asks the container to load or reveal more elements.
	ScrollForMore(ctx context.Context) error
}

// Lifecycle exposes the external run/stop switch.
type Lifecycle interface {
	Running() bool
}

// LifecycleFunc adapts a plain function to the Lifecycle interface.
type LifecycleFunc func() bool

// Running implements Lifecycle.
func (f LifecycleFunc) Running() bool { return f() }

// AlwaysRunning is a Lifecycle that never requests a stop; cancellation then
// comes exclusively from the context.
var AlwaysRunning Lifecycle = LifecycleFunc(func() bool { return true })

// DurationRange is an inclusive [Min, Max] bound used for randomized suspensions.
type DurationRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Normalize returns the range with negative bounds clamped to zero and the
// bounds swapped if they were given in the wrong order.
func (r DurationRange) Normalize() DurationRange {
	if r.Min < 0 {
		r.Min = 0
	}
	if r.Max < 0 {
		r.Max = 0
	}
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

// Shift moves both bounds down by d, clamping at zero.
func (r DurationRange) Shift(d time.Duration) DurationRange {
	return DurationRange{Min: r.Min - d, Max: r.Max - d}.Normalize()
}

// Delayer is the delay collaborator. Every artificial pause in the core goes
// through it so tests can run on a fake clock.
type Delayer interface {
	// Pick draws a duration from r without sleeping.
	Pick(r DurationRange) time.Duration
	// Suspend sleeps for a duration drawn from r.
	Suspend(ctx context.Context, r DurationRange) error
	// Sleep sleeps for exactly d, returning early with ctx.Err() on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// Telemetry receives structured, fire and forget events. Implementations must
// not block the caller and may drop events.
type Telemetry interface {
	Emit(event Event)
}

// TelemetryFunc adapts a plain function to the Telemetry interface.
type TelemetryFunc func(event Event)

// Emit implements Telemetry.
func (f TelemetryFunc) Emit(event Event) { f(event) }

// NopTelemetry discards every event.
var NopTelemetry Telemetry = TelemetryFunc(func(Event) {})
