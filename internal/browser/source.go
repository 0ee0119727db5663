// File: internal/browser/source.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// ErrNotClickable is returned when the element has no box to click into.
var ErrNotClickable = errors.New("browser: element has no clickable box")

// Options locates the list on the page and bounds the interaction.
type Options struct {
	// ContainerSelector scopes the scan, e.g. an open dialog. Empty scans the
	// whole document.
	ContainerSelector string
	// CandidateSelector matches the interactive elements inside the container.
	CandidateSelector string
	// RowSelector finds the list entry an element belongs to.
	RowSelector string
	ScrollMin   int
	ScrollMax   int
	// ScrollRate caps ScrollForMore calls per second.
	ScrollRate    float64
	ActionTimeout time.Duration
}

// Handle references a DOM node by its backend id, which stays valid while the
// node is attached.
type Handle struct {
	ID cdp.BackendNodeID
}

// HandleID implements schemas.ElementHandle.
func (h Handle) HandleID() string { return fmt.Sprintf("node-%d", h.ID) }

// Source implements schemas.UISource on a live page.
type Source struct {
	driver  Driver
	cfg     Options
	delayer schemas.Delayer
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	pointer point
}

var _ schemas.UISource = (*Source)(nil)

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithRand sets the random source used for gestures and scroll amounts.
func WithRand(rng *rand.Rand) SourceOption {
	return func(s *Source) { s.rng = rng }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SourceOption {
	return func(s *Source) { s.logger = l }
}

// NewSource creates a Source. The delayer paces the pointer gesture.
func NewSource(driver Driver, cfg Options, delayer schemas.Delayer, opts ...SourceOption) *Source {
	s := &Source{
		driver:  driver,
		cfg:     cfg,
		delayer: delayer,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	limit := rate.Inf
	if cfg.ScrollRate > 0 {
		limit = rate.Limit(cfg.ScrollRate)
	}
	s.limiter = rate.NewLimiter(limit, 1)
	s.logger = s.logger.Named("source")
	return s
}

func (s *Source) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ActionTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.ActionTimeout)
	}
	return context.WithCancel(ctx)
}

func handleOf(h schemas.ElementHandle) (Handle, error) {
	switch v := h.(type) {
	case Handle:
		return v, nil
	case *Handle:
		return *v, nil
	default:
		return Handle{}, fmt.Errorf("browser: foreign element handle %T", h)
	}
}

// scopedSelector prefixes every alternative of candidate with every
// alternative of container.
func scopedSelector(container, candidate string) string {
	scopes := splitSelectorList(container)
	if len(scopes) == 0 {
		return candidate
	}
	alternatives := splitSelectorList(candidate)
	parts := make([]string, 0, len(scopes)*len(alternatives))
	for _, scope := range scopes {
		for _, alt := range alternatives {
			parts = append(parts, scope+" "+alt)
		}
	}
	return strings.Join(parts, ", ")
}

// splitSelectorList splits a selector list on its top level commas. Commas
// inside parentheses, brackets or quotes belong to one alternative.
func splitSelectorList(sel string) []string {
	var (
		parts []string
		depth int
		open  rune
		start int
	)
	add := func(p string) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	for i, r := range sel {
		switch {
		case open != 0:
			if r == open {
				open = 0
			}
		case r == '"' || r == '\'':
			open = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			add(sel[start:i])
			start = i + 1
		}
	}
	add(sel[start:])
	return parts
}

// Enumerate implements schemas.UISource.
func (s *Source) Enumerate(ctx context.Context) ([]schemas.ElementHandle, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	nodes, err := s.driver.QueryNodes(ctx, scopedSelector(s.cfg.ContainerSelector, s.cfg.CandidateSelector))
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	handles := make([]schemas.ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		if n == nil || n.BackendNodeID == 0 {
			continue
		}
		handles = append(handles, Handle{ID: n.BackendNodeID})
	}
	return handles, nil
}

// ReadSignals implements schemas.UISource.
func (s *Source) ReadSignals(ctx context.Context, h schemas.ElementHandle) (schemas.RawSignals, error) {
	bh, err := handleOf(h)
	if err != nil {
		return schemas.RawSignals{}, err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload, err := s.driver.CallOnNode(ctx, bh.ID, signalsFunction(s.cfg.RowSelector))
	if err != nil {
		return schemas.RawSignals{}, err
	}
	return decodeSignals(payload)
}

// IsVisible implements schemas.UISource.
func (s *Source) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	bh, err := handleOf(h)
	if err != nil {
		return false, err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload, err := s.driver.CallOnNode(ctx, bh.ID, geometryProbe)
	if err != nil {
		return false, err
	}
	g, err := decodeGeometry(payload)
	if err != nil {
		return false, err
	}
	return g.Visible(), nil
}

// Trigger implements schemas.UISource. It scrolls the element into view,
// moves the pointer to it along a curved path and clicks.
func (s *Source) Trigger(ctx context.Context, h schemas.ElementHandle) error {
	bh, err := handleOf(h)
	if err != nil {
		return err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload, err := s.driver.CallOnNode(ctx, bh.ID, boxProbe)
	if err != nil {
		return err
	}
	b, err := decodeBox(payload)
	if err != nil {
		return err
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: %s", ErrNotClickable, bh.HandleID())
	}
	if err := s.delayer.Suspend(ctx, schemas.DurationRange{Min: 400 * time.Millisecond, Max: 900 * time.Millisecond}); err != nil {
		return err
	}

	s.mu.Lock()
	target := clickTarget(s.rng, b)
	path := pointerPath(s.rng, s.pointer, target, 12+s.rng.Intn(14))
	s.mu.Unlock()

	for _, p := range path {
		if err := s.driver.DispatchMouseEvent(ctx, input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y)); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
		if err := s.delayer.Suspend(ctx, schemas.DurationRange{Min: 8 * time.Millisecond, Max: 22 * time.Millisecond}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.pointer = target
	s.mu.Unlock()

	if err := s.delayer.Suspend(ctx, schemas.DurationRange{Min: 200 * time.Millisecond, Max: 400 * time.Millisecond}); err != nil {
		return err
	}
	press := input.DispatchMouseEvent(input.MousePressed, target.X, target.Y).WithButton(input.Left).WithButtons(1).WithClickCount(1)
	if err := s.driver.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("press: %w", err)
	}
	// Release even if the hold is interrupted so no button stays down.
	holdErr := s.delayer.Suspend(ctx, schemas.DurationRange{Min: 120 * time.Millisecond, Max: 260 * time.Millisecond})
	release := input.DispatchMouseEvent(input.MouseReleased, target.X, target.Y).WithButton(input.Left).WithClickCount(1)
	if err := s.driver.DispatchMouseEvent(context.WithoutCancel(ctx), release); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if holdErr != nil {
		return holdErr
	}
	s.logger.Debug("Clicked element.", zap.String("handle", bh.HandleID()), zap.Int("path_steps", len(path)))
	return nil
}

// ScrollForMore implements schemas.UISource.
func (s *Source) ScrollForMore(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	s.mu.Lock()
	amount := s.cfg.ScrollMin
	if span := s.cfg.ScrollMax - s.cfg.ScrollMin; span > 0 {
		amount += s.rng.Intn(span + 1)
	}
	s.mu.Unlock()

	payload, err := s.driver.Evaluate(ctx, scrollExpression(amount, s.cfg.ContainerSelector))
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	var inContainer bool
	if err := json.Unmarshal(payload, &inContainer); err != nil {
		return fmt.Errorf("decode scroll result: %w", err)
	}
	s.logger.Debug("Scrolled.", zap.Int("amount", amount), zap.Bool("in_container", inContainer))
	return nil
}
