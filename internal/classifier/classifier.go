// File: internal/classifier/classifier.go
package classifier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/signals"
)

// Classifier maps a signal bag to an element status. It holds no mutable
// state after construction and is safe for concurrent use.
type Classifier struct {
	rules  []Rule
	close  Rule
	logger *zap.Logger
}

// New compiles the lexicon into a classifier.
func New(lex Lexicon, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules, err := BuildRules(lex)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return &Classifier{
		rules:  rules,
		close:  BuildCloseRule(lex),
		logger: logger.Named("classifier"),
	}, nil
}

// Default returns a classifier over DefaultLexicon.
func Default() *Classifier {
	c, err := New(DefaultLexicon(), nil)
	if err != nil {
		// The built in lexicon is static; failing here is a programming error.
		panic(err)
	}
	return c
}

// Decision records which rule produced a status.
type Decision struct {
	Status  schemas.ElementStatus
	Rule    string
	Matcher string
}

// Classify returns the status for the bag. Rules are evaluated in order
// and the first match wins.
func (c *Classifier) Classify(b signals.Bag) schemas.ElementStatus {
	return c.Explain(b).Status
}

// Explain is Classify plus the rule and matcher that fired.
func (c *Classifier) Explain(b signals.Bag) Decision {
	if b.Empty() {
		return Decision{Status: schemas.StatusUnknown, Rule: "empty"}
	}
	if m := c.close.Match(b); m != nil {
		return Decision{Status: schemas.StatusUnknown, Rule: c.close.Name, Matcher: m.String()}
	}
	for _, r := range c.rules {
		if m := r.Match(b); m != nil {
			return Decision{Status: r.Status, Rule: r.Name, Matcher: m.String()}
		}
	}
	return Decision{Status: schemas.StatusUnknown}
}

// IsCloseControl reports whether the bag describes a dismissal control.
func (c *Classifier) IsCloseControl(b signals.Bag) bool {
	return c.close.Match(b) != nil
}

// Visible is the geometry predicate applied before classification.
func Visible(b signals.Bag) bool {
	return b.Geometry().Visible()
}

// Evaluate extracts and classifies a single element. Any failure along the
// way, including a panic inside the source, resolves to Unknown and an
// empty bag.
func (c *Classifier) Evaluate(ctx context.Context, ex *signals.Extractor, h schemas.ElementHandle) (status schemas.ElementStatus, bag signals.Bag) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("Recovered from panic during classification.", zap.Any("panic", r))
			status, bag = schemas.StatusUnknown, signals.Bag{}
		}
	}()

	bag, err := ex.Extract(ctx, h)
	if err != nil {
		if !errors.Is(err, signals.ErrNoSignals) {
			c.logger.Debug("Signal extraction failed.", zap.Error(err))
		}
		return schemas.StatusUnknown, bag
	}
	d := c.Explain(bag)
	if ce := c.logger.Check(zap.DebugLevel, "Element classified."); ce != nil {
		ce.Write(
			zap.String("handle", h.HandleID()),
			zap.Stringer("status", d.Status),
			zap.String("rule", d.Rule),
			zap.String("matcher", d.Matcher),
			zap.Stringer("signals", bag),
		)
	}
	return d.Status, bag
}
