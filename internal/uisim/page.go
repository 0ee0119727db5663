// File: internal/uisim/page.go
package uisim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// ErrClickFailed is returned by Trigger for rows scripted to fail.
var ErrClickFailed = errors.New("uisim: simulated click failure")

// ErrUnknownElement is returned for handles the page never produced.
var ErrUnknownElement = errors.New("uisim: unknown element")

// Handle identifies a simulated row.
type Handle string

// HandleID implements schemas.ElementHandle.
func (h Handle) HandleID() string { return string(h) }

// Row scripts one entry in the simulated list.
type Row struct {
	User   string
	Status schemas.ElementStatus
	// Private rows answer a click with a pending request instead of an
	// active relationship.
	Private bool
	// Fails makes every Trigger on the row return ErrClickFailed.
	Fails bool
	// Hidden rows are rendered with an empty box.
	Hidden bool
	// Label overrides the label derived from Status.
	Label string
}

// Options drives the random list generator.
type Options struct {
	Rows         int
	PageSize     int
	Seed         int64
	ActiveRatio  float64
	PendingRatio float64
	PrivateRatio float64
	// ConfirmLag is the read after a click on which the new label shows.
	// Earlier reads still see the old one, like a slow re-render.
	ConfirmLag  int
	FailureRate float64
}

// Stats counts the interactions the page received.
type Stats struct {
	Loaded   int `json:"loaded"`
	Total    int `json:"total"`
	Triggers int `json:"triggers"`
	Scrolls  int `json:"scrolls"`
	Reads    int `json:"reads"`
}

type row struct {
	Row
	id string
	// lag counts down the reads until the settled label shows.
	lag     int
	shown   schemas.ElementStatus
	settled schemas.ElementStatus
}

// Page is a scripted, in-memory schemas.UISource. Rows are revealed a page at
// a time by ScrollForMore, and a click flips a row's state after ConfirmLag
// reads. It is safe for concurrent use.
type Page struct {
	mu         sync.Mutex
	rows       []*row
	byID       map[string]*row
	loaded     int
	pageSize   int
	confirmLag int
	stats      Stats
	logger     *zap.Logger
}

var _ schemas.UISource = (*Page)(nil)

// New generates a page of opts.Rows random rows.
func New(opts Options, logger *zap.Logger) *Page {
	rng := rand.New(rand.NewSource(opts.Seed))
	rows := make([]Row, opts.Rows)
	for i := range rows {
		r := Row{User: fmt.Sprintf("user_%03d", i+1), Status: schemas.StatusFollowable}
		switch roll := rng.Float64(); {
		case roll < opts.ActiveRatio:
			r.Status = schemas.StatusActive
		case roll < opts.ActiveRatio+opts.PendingRatio:
			r.Status = schemas.StatusPending
		}
		r.Private = rng.Float64() < opts.PrivateRatio
		r.Fails = rng.Float64() < opts.FailureRate
		rows[i] = r
	}
	return NewFromRows(rows, opts.PageSize, opts.ConfirmLag, logger)
}

// NewFromRows builds a page from an explicit script.
func NewFromRows(rows []Row, pageSize, confirmLag int, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = len(rows)
	}
	p := &Page{
		byID:       make(map[string]*row, len(rows)),
		pageSize:   pageSize,
		confirmLag: confirmLag,
		logger:     logger.Named("uisim"),
	}
	for i, r := range rows {
		sr := &row{Row: r, id: fmt.Sprintf("row-%d", i+1), shown: r.Status, settled: r.Status}
		p.rows = append(p.rows, sr)
		p.byID[sr.id] = sr
	}
	p.loaded = min(pageSize, len(rows))
	p.stats.Total = len(rows)
	return p
}

// Enumerate implements schemas.UISource.
func (p *Page) Enumerate(ctx context.Context) ([]schemas.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	handles := make([]schemas.ElementHandle, 0, p.loaded)
	for _, r := range p.rows[:p.loaded] {
		handles = append(handles, Handle(r.id))
	}
	return handles, nil
}

// ReadSignals implements schemas.UISource.
func (p *Page) ReadSignals(ctx context.Context, h schemas.ElementHandle) (schemas.RawSignals, error) {
	if err := ctx.Err(); err != nil {
		return schemas.RawSignals{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.lookup(h)
	if err != nil {
		return schemas.RawSignals{}, err
	}
	p.stats.Reads++
	if r.lag > 0 {
		r.lag--
		if r.lag == 0 {
			r.shown = r.settled
		}
	}
	return r.signals(), nil
}

// IsVisible implements schemas.UISource.
func (p *Page) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.lookup(h)
	if err != nil {
		return false, err
	}
	return !r.Hidden, nil
}

// Trigger implements schemas.UISource.
func (p *Page) Trigger(ctx context.Context, h schemas.ElementHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.lookup(h)
	if err != nil {
		return err
	}
	p.stats.Triggers++
	if r.Fails {
		return fmt.Errorf("%w on %s", ErrClickFailed, r.id)
	}
	if r.settled != schemas.StatusFollowable {
		return nil
	}
	r.settled = schemas.StatusActive
	if r.Private {
		r.settled = schemas.StatusPending
	}
	r.Label = ""
	r.lag = p.confirmLag
	if r.lag == 0 {
		r.shown = r.settled
	}
	p.logger.Debug("Row clicked.", zap.String("row", r.id), zap.Stringer("settles_to", r.settled))
	return nil
}

// ScrollForMore implements schemas.UISource.
func (p *Page) ScrollForMore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Scrolls++
	p.loaded = min(p.loaded+p.pageSize, len(p.rows))
	return nil
}

// Stats returns the interaction counters.
func (p *Page) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Loaded = p.loaded
	return s
}

// Status returns the settled state of the nth row, counting from zero.
func (p *Page) Status(n int) schemas.ElementStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[n].settled
}

func (p *Page) lookup(h schemas.ElementHandle) (*row, error) {
	r, ok := p.byID[h.HandleID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, h.HandleID())
	}
	return r, nil
}

func (r *row) signals() schemas.RawSignals {
	raw := schemas.RawSignals{
		Text:        r.label(),
		ParentText:  r.User + " Suggested for you",
		SiblingText: []string{r.User},
		Classes:     []string{"btn"},
		Geometry:    schemas.Geometry{Width: 96, Height: 32},
	}
	if r.Hidden {
		raw.Geometry = schemas.Geometry{Hidden: true}
	}
	return raw
}

func (r *row) label() string {
	if r.Label != "" {
		return r.Label
	}
	switch r.shown {
	case schemas.StatusFollowable:
		return "Follow"
	case schemas.StatusActive:
		return "Following"
	case schemas.StatusPending:
		return "Requested"
	default:
		return "Remove"
	}
}
