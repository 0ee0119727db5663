// File: internal/classifier/rules.go
package classifier

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/signals"
)

// Matcher is a single predicate over a signal bag.
type Matcher interface {
	Match(b signals.Bag) bool
	String() string
}

// Phrase matches a contiguous token sequence in the element's own labels.
// With Surrounding set, parent and sibling text are searched as well.
type Phrase struct {
	Tokens      []string
	Surrounding bool
}

func (m Phrase) Match(b signals.Bag) bool {
	if m.Surrounding {
		return b.HasPhrase(m.Tokens)
	}
	return b.HasOwnPhrase(m.Tokens)
}

func (m Phrase) String() string {
	return scoped(m.Surrounding, fmt.Sprintf("phrase(%s)", strings.Join(m.Tokens, " ")))
}

// AllTokens matches when every token occurs in the element's own labels, in
// any order. It models combinations like a cancel verb plus a request noun.
type AllTokens struct {
	Tokens      []string
	Surrounding bool
}

func (m AllTokens) Match(b signals.Bag) bool {
	if len(m.Tokens) == 0 {
		return false
	}
	has := b.HasOwnToken
	if m.Surrounding {
		has = b.HasToken
	}
	for _, tok := range m.Tokens {
		if !has(tok) {
			return false
		}
	}
	return true
}

func (m AllTokens) String() string {
	return scoped(m.Surrounding, fmt.Sprintf("all(%s)", strings.Join(m.Tokens, "+")))
}

// TokenPrefix matches any own-label token beginning with Prefix.
type TokenPrefix struct {
	Prefix      string
	Surrounding bool
}

func (m TokenPrefix) Match(b signals.Bag) bool {
	if m.Surrounding {
		return b.HasTokenPrefix(m.Prefix)
	}
	return b.HasOwnTokenPrefix(m.Prefix)
}

func (m TokenPrefix) String() string {
	return scoped(m.Surrounding, fmt.Sprintf("prefix(%s*)", m.Prefix))
}

func scoped(surrounding bool, s string) string {
	if surrounding {
		return "~" + s
	}
	return s
}

// Exact matches when one of the element's own labels equals Text as a whole.
type Exact struct {
	Text string
}

func (m Exact) Match(b signals.Bag) bool { return b.PrimaryEquals(m.Text) }
func (m Exact) String() string           { return fmt.Sprintf("exact(%s)", m.Text) }

// ClassToken matches a CSS class token.
type ClassToken struct {
	Class string
}

func (m ClassToken) Match(b signals.Bag) bool { return b.HasClass(m.Class) }
func (m ClassToken) String() string           { return fmt.Sprintf("class(%s)", m.Class) }

// AttrValue matches a data attribute whose normalized value is one of Values.
type AttrValue struct {
	Key    string
	Values []string
}

func (m AttrValue) Match(b signals.Bag) bool {
	v, ok := b.Attr(m.Key)
	if !ok {
		return false
	}
	for _, want := range m.Values {
		if v == want {
			return true
		}
	}
	return false
}

func (m AttrValue) String() string {
	return fmt.Sprintf("attr(%s=%s)", m.Key, strings.Join(m.Values, "|"))
}

// Rule assigns Status when any of its matchers fires.
type Rule struct {
	Name     string
	Status   schemas.ElementStatus
	Matchers []Matcher
}

// Match returns the first matcher that fires, or nil.
func (r Rule) Match(b signals.Bag) Matcher {
	for _, m := range r.Matchers {
		if m.Match(b) {
			return m
		}
	}
	return nil
}

// ParseTerm turns a lexicon entry into a matcher. Terms match the element's
// own labels; a leading "~" extends the search to parent and sibling text.
//
//	"requested"       phrase (single token)
//	"request sent"    phrase (contiguous tokens)
//	"cancel+request"  all tokens, any order
//	"solicitad*"      token prefix
//	"~requested"      phrase, surrounding text included
func ParseTerm(term string) (Matcher, error) {
	t := signals.Normalize(term)
	surrounding := strings.HasPrefix(t, "~")
	t = strings.TrimSpace(strings.TrimPrefix(t, "~"))
	switch {
	case t == "":
		return nil, fmt.Errorf("classifier: empty lexicon term")
	case strings.HasSuffix(t, "*"):
		prefix := strings.TrimSuffix(t, "*")
		if len(signals.Tokenize(prefix)) != 1 {
			return nil, fmt.Errorf("classifier: prefix term %q must be a single word", term)
		}
		return TokenPrefix{Prefix: prefix, Surrounding: surrounding}, nil
	case strings.Contains(t, "+"):
		var toks []string
		for _, part := range strings.Split(t, "+") {
			toks = append(toks, signals.Tokenize(part)...)
		}
		if len(toks) < 2 {
			return nil, fmt.Errorf("classifier: combination term %q needs at least two words", term)
		}
		return AllTokens{Tokens: toks, Surrounding: surrounding}, nil
	default:
		toks := signals.Tokenize(t)
		if len(toks) == 0 {
			return nil, fmt.Errorf("classifier: term %q has no words", term)
		}
		return Phrase{Tokens: toks, Surrounding: surrounding}, nil
	}
}

func parseTerms(terms []string) ([]Matcher, error) {
	out := make([]Matcher, 0, len(terms))
	for _, term := range terms {
		m, err := ParseTerm(term)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
