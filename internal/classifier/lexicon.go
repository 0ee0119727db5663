// File: internal/classifier/lexicon.go
package classifier

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/signals"
)

// Lexicon is the vocabulary the rule table is built from. English and
// Portuguese labels are covered by default.
type Lexicon struct {
	// Pending terms mark an awaiting-approval state. See ParseTerm for syntax.
	Pending []string
	// PendingClasses are CSS class tokens associated with request state.
	PendingClasses []string
	// PendingAttributes maps a data attribute to values indicating request state.
	PendingAttributes map[string][]string
	// Active terms mark the target state as already reached.
	Active []string
	// CallToAction labels must match an element's own label exactly.
	CallToAction []string
	// Close labels identify dismissal controls by exact label.
	Close []string
	// CloseWords identify dismissal controls by a word in their own labels,
	// e.g. an accessible name of "Close dialog".
	CloseWords []string
	// CloseClasses identify dismissal controls by class token.
	CloseClasses []string
}

// DefaultLexicon returns the built in vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Pending: []string{
			"pending", "requested", "request sent", "pendente",
			"solicitado", "solicitada", "solicitad*",
			"cancel+request", "cancelar+solicitacao",
		},
		PendingClasses: []string{"requested", "pending", "is-requested"},
		PendingAttributes: map[string][]string{
			"data-state":        {"requested", "pending"},
			"data-status":       {"requested", "pending"},
			"data-follow-state": {"requested", "pending"},
		},
		Active: []string{
			"following", "unfollow", "seguindo", "active",
			"stop+follow", "stop+following", "deixar de seguir",
		},
		CallToAction: []string{"follow", "follow back", "seguir", "seguir de volta"},
		Close:        []string{"close", "dismiss", "fechar", "×", "x", "✕"},
		CloseWords:   []string{"close", "dismiss", "fechar"},
		CloseClasses: []string{"close", "dismiss", "modal-close", "btn-close"},
	}
}

// Merge returns l with every non empty list in override replacing the
// corresponding default.
func (l Lexicon) Merge(override Lexicon) Lexicon {
	pick := func(base, o []string) []string {
		if len(o) > 0 {
			return o
		}
		return base
	}
	out := Lexicon{
		Pending:           pick(l.Pending, override.Pending),
		PendingClasses:    pick(l.PendingClasses, override.PendingClasses),
		PendingAttributes: l.PendingAttributes,
		Active:            pick(l.Active, override.Active),
		CallToAction:      pick(l.CallToAction, override.CallToAction),
		Close:             pick(l.Close, override.Close),
		CloseWords:        pick(l.CloseWords, override.CloseWords),
		CloseClasses:      pick(l.CloseClasses, override.CloseClasses),
	}
	if len(override.PendingAttributes) > 0 {
		out.PendingAttributes = override.PendingAttributes
	}
	return out
}

// BuildRules compiles the lexicon into the ordered rule table, most specific
// first: Pending, Active, Followable. Pending phrases can contain follow-like
// words, so it must be evaluated before Active.
func BuildRules(l Lexicon) ([]Rule, error) {
	pending, err := parseTerms(l.Pending)
	if err != nil {
		return nil, fmt.Errorf("pending lexicon: %w", err)
	}
	for _, cls := range l.PendingClasses {
		pending = append(pending, ClassToken{Class: strings.ToLower(strings.TrimSpace(cls))})
	}
	for key, values := range l.PendingAttributes {
		normalized := make([]string, 0, len(values))
		for _, v := range values {
			normalized = append(normalized, signals.Normalize(v))
		}
		pending = append(pending, AttrValue{Key: strings.ToLower(key), Values: normalized})
	}

	active, err := parseTerms(l.Active)
	if err != nil {
		return nil, fmt.Errorf("active lexicon: %w", err)
	}

	if len(l.CallToAction) == 0 {
		return nil, fmt.Errorf("call to action lexicon must not be empty")
	}
	cta := make([]Matcher, 0, len(l.CallToAction))
	for _, term := range l.CallToAction {
		if n := signals.Normalize(term); n != "" {
			cta = append(cta, Exact{Text: n})
		}
	}

	return []Rule{
		{Name: "pending", Status: schemas.StatusPending, Matchers: pending},
		{Name: "active", Status: schemas.StatusActive, Matchers: active},
		{Name: "followable", Status: schemas.StatusFollowable, Matchers: cta},
	}, nil
}

// BuildCloseRule compiles the dismissal control heuristic.
func BuildCloseRule(l Lexicon) Rule {
	var matchers []Matcher
	for _, term := range l.Close {
		if n := signals.Normalize(term); n != "" {
			matchers = append(matchers, Exact{Text: n})
		}
	}
	for _, word := range l.CloseWords {
		if toks := signals.Tokenize(signals.Normalize(word)); len(toks) > 0 {
			matchers = append(matchers, Phrase{Tokens: toks})
		}
	}
	for _, cls := range l.CloseClasses {
		matchers = append(matchers, ClassToken{Class: strings.ToLower(strings.TrimSpace(cls))})
	}
	return Rule{Name: "close", Status: schemas.StatusUnknown, Matchers: matchers}
}
