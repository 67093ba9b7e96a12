// Package collate provides locale-aware case folding, sort keys and primary
// strength matching for text fields.
package collate

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	xcollate "golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/search"
	"golang.org/x/text/unicode/norm"
)

// Collator compares and folds text. Implementations are safe for concurrent use.
type Collator interface {
	// Lower case-folds s for the collator's locale.
	Lower(s string) string
	// SortKey returns a key whose byte order matches Compare.
	SortKey(s string) string
	// Compare orders a and b, returning -1, 0 or 1.
	Compare(a, b string) int
	// PrimaryContains reports whether needle occurs in haystack when accents,
	// case and punctuation are ignored.
	PrimaryContains(haystack, needle string) bool
	// PrimaryEqual reports whether a and b differ at most in accents and case.
	PrimaryEqual(a, b string) bool
}

// ICU is a Collator bound to a locale through golang.org/x/text.
type ICU struct {
	tag language.Tag

	mu sync.Mutex
	// primary ignores case and accents for both ordering and equality.
	primary *xcollate.Collator
	matcher *search.Matcher
	buf     xcollate.Buffer
}

// New returns a collator for the given BCP-47 locale. Unknown locales fall
// back to the root collation.
func New(locale string) *ICU {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &ICU{
		tag:     tag,
		primary: xcollate.New(tag, xcollate.Loose),
		matcher: search.New(tag, search.Loose),
	}
}

// Locale returns the tag the collator was built for.
func (c *ICU) Locale() language.Tag { return c.tag }

// Lower case-folds s.
func (c *ICU) Lower(s string) string {
	// cases.Caser keeps per-call state; a fresh copy avoids sharing it.
	lc := cases.Lower(c.tag)
	return lc.String(s)
}

// SortKey returns the primary-strength collation key of s.
func (c *ICU) SortKey(s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	return string(c.primary.KeyFromString(&c.buf, s))
}

// Compare orders a and b.
func (c *ICU) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary.CompareString(a, b)
}

// PrimaryContains reports a loose substring match.
func (c *ICU) PrimaryContains(haystack, needle string) bool {
	needle = stripPunctuation(needle)
	if needle == "" {
		return true
	}
	haystack = stripPunctuation(haystack)
	c.mu.Lock()
	defer c.mu.Unlock()
	start, _ := c.matcher.IndexString(haystack, needle)
	return start >= 0
}

// PrimaryEqual reports a loose equality match.
func (c *ICU) PrimaryEqual(a, b string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary.CompareString(a, b) == 0
}

// Stub is a deterministic collator that folds to lower-case ASCII. It is
// locale independent and used by tests.
type Stub struct{}

// NewStub returns the deterministic collator.
func NewStub() Stub { return Stub{} }

// Lower case-folds s.
func (Stub) Lower(s string) string { return strings.ToLower(s) }

// SortKey returns the folded form of s.
func (Stub) SortKey(s string) string { return fold(s) }

// Compare orders the folded forms of a and b.
func (Stub) Compare(a, b string) int { return strings.Compare(fold(a), fold(b)) }

// PrimaryContains reports a folded substring match.
func (Stub) PrimaryContains(haystack, needle string) bool {
	return strings.Contains(fold(stripPunctuation(haystack)), fold(stripPunctuation(needle)))
}

// PrimaryEqual reports folded equality.
func (Stub) PrimaryEqual(a, b string) bool { return fold(a) == fold(b) }

func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
}
