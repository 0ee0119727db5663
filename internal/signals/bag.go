// File: internal/signals/bag.go
package signals

import (
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// Bag is the normalized signal set for one element at scan time. It is a value
// derived from schemas.RawSignals and is never mutated after construction.
type Bag struct {
	// primary holds the element's own labels: text, nested text, accessible
	// name and title. Exact call-to-action matching only looks here.
	primary []string
	// sources holds every normalized textual source, primary ones first,
	// followed by parent and sibling text.
	sources []string
	// tokens holds the word tokens of each entry in sources.
	tokens   [][]string
	tokenSet map[string]struct{}
	// ownTokenSet holds the tokens of the primary labels only.
	ownTokenSet map[string]struct{}
	classes    map[string]struct{}
	attributes map[string]string
	anchor     string
	geometry   schemas.Geometry
}

// FromRaw builds a Bag from raw signals.
func FromRaw(raw schemas.RawSignals) Bag {
	b := newBag(raw.Geometry)
	b.addPrimary(raw.Text, raw.NestedText, raw.AccessibleName, raw.Title)

	surroundings := make([]string, 0, len(raw.SiblingText)+1)
	if n := Normalize(raw.ParentText); n != "" {
		surroundings = append(surroundings, n)
		b.addSource(n)
	}
	for _, s := range raw.SiblingText {
		if n := Normalize(s); n != "" {
			surroundings = append(surroundings, n)
			b.addSource(n)
		}
	}

	for _, cls := range raw.Classes {
		for _, tok := range strings.Fields(strings.ToLower(cls)) {
			b.classes[tok] = struct{}{}
		}
	}
	for k, v := range raw.DataAttributes {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		b.attributes[key] = Normalize(v)
	}

	b.anchor = fingerprint(surroundings)
	return b
}

// FromText is a convenience constructor for a visible bag whose texts are all
// the element's own labels.
func FromText(texts ...string) Bag {
	b := newBag(schemas.Geometry{Width: 1, Height: 1})
	b.addPrimary(texts...)
	return b
}

func newBag(g schemas.Geometry) Bag {
	return Bag{
		tokenSet:    make(map[string]struct{}),
		ownTokenSet: make(map[string]struct{}),
		classes:     make(map[string]struct{}),
		attributes:  make(map[string]string),
		geometry:    g,
	}
}

// addPrimary must run before any surrounding source is added, so the first
// len(primary) entries of tokens are the own labels.
func (b *Bag) addPrimary(labels ...string) {
	seen := make(map[string]bool, len(labels))
	for _, s := range labels {
		n := Normalize(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		b.primary = append(b.primary, n)
		for _, t := range b.addSource(n) {
			b.ownTokenSet[t] = struct{}{}
		}
	}
}

func (b *Bag) addSource(s string) []string {
	b.sources = append(b.sources, s)
	toks := Tokenize(s)
	b.tokens = append(b.tokens, toks)
	for _, t := range toks {
		b.tokenSet[t] = struct{}{}
	}
	return toks
}

// Empty reports whether the bag carries no usable signal at all.
func (b Bag) Empty() bool {
	return len(b.sources) == 0 && len(b.classes) == 0 && len(b.attributes) == 0
}

// Primary returns the element's own normalized labels.
func (b Bag) Primary() []string { return append([]string(nil), b.primary...) }

// Sources returns every normalized textual source.
func (b Bag) Sources() []string { return append([]string(nil), b.sources...) }

// Geometry returns the geometry read alongside the signals.
func (b Bag) Geometry() schemas.Geometry { return b.geometry }

// Anchor is a short fingerprint of the element's surrounding context (parent
// and sibling text). It lets a re-scan find "the same row" after the UI has
// re-rendered the element. Empty when there is no context.
func (b Bag) Anchor() string { return b.anchor }

// PrimaryEquals reports whether one of the element's own labels equals s exactly.
func (b Bag) PrimaryEquals(s string) bool {
	for _, p := range b.primary {
		if p == s {
			return true
		}
	}
	return false
}

// HasPhrase reports whether the token sequence appears contiguously within a
// single source. Matching is on token boundaries: "follow" does not match
// "following".
func (b Bag) HasPhrase(phrase []string) bool {
	return b.hasPhraseIn(b.tokens, phrase)
}

// HasOwnPhrase is HasPhrase restricted to the element's own labels.
func (b Bag) HasOwnPhrase(phrase []string) bool {
	return b.hasPhraseIn(b.tokens[:len(b.primary)], phrase)
}

func (b Bag) hasPhraseIn(sources [][]string, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for _, toks := range sources {
		if containsSequence(toks, phrase) {
			return true
		}
	}
	return false
}

// HasToken reports whether any source contains the token.
func (b Bag) HasToken(tok string) bool {
	_, ok := b.tokenSet[tok]
	return ok
}

// HasOwnToken is HasToken restricted to the element's own labels.
func (b Bag) HasOwnToken(tok string) bool {
	_, ok := b.ownTokenSet[tok]
	return ok
}

// HasTokenPrefix reports whether any token starts with prefix.
func (b Bag) HasTokenPrefix(prefix string) bool {
	return hasPrefixIn(b.tokenSet, prefix)
}

// HasOwnTokenPrefix is HasTokenPrefix restricted to the element's own labels.
func (b Bag) HasOwnTokenPrefix(prefix string) bool {
	return hasPrefixIn(b.ownTokenSet, prefix)
}

func hasPrefixIn(set map[string]struct{}, prefix string) bool {
	if prefix == "" {
		return false
	}
	for tok := range set {
		if strings.HasPrefix(tok, prefix) {
			return true
		}
	}
	return false
}

// HasClass reports whether the element carries the CSS class token.
func (b Bag) HasClass(cls string) bool {
	_, ok := b.classes[cls]
	return ok
}

// Attr returns a normalized data attribute value.
func (b Bag) Attr(key string) (string, bool) {
	v, ok := b.attributes[key]
	return v, ok
}

// String renders the bag for logging. Output is stable across calls.
func (b Bag) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(b.sources, " | "))
	if len(b.classes) > 0 {
		classes := make([]string, 0, len(b.classes))
		for c := range b.classes {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		sb.WriteString(" ." + strings.Join(classes, "."))
	}
	return sb.String()
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// hasherPool reuses FNV hashers; fingerprinting runs for every element of
// every scan pass.
var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

func fingerprint(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	_, _ = hasher.Write([]byte(strings.Join(parts, "\x1f")))
	return strconv.FormatUint(hasher.Sum64(), 16)
}
