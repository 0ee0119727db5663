// File: internal/signals/extractor.go
package signals

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// ErrNoSignals is returned when an element produced no usable signal.
var ErrNoSignals = errors.New("signals: element has no usable signals")

// Extractor reads raw signals for an element through the UI source and
// normalizes them into a Bag.
type Extractor struct {
	source schemas.UISource
	logger *zap.Logger
}

// NewExtractor creates an Extractor over source.
func NewExtractor(source schemas.UISource, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, logger: logger.Named("signals")}
}

// Extract reads and normalizes the signals of h. Panics raised by the UI
// source are converted to errors so a single bad element can't take the
// pass down.
func (e *Extractor) Extract(ctx context.Context, h schemas.ElementHandle) (bag Bag, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signals: panic while reading element: %v", r)
		}
	}()

	raw, err := e.source.ReadSignals(ctx, h)
	if err != nil {
		return Bag{}, fmt.Errorf("signals: read element %s: %w", h.HandleID(), err)
	}
	bag = FromRaw(raw)
	if bag.Empty() {
		return bag, ErrNoSignals
	}
	return bag, nil
}
