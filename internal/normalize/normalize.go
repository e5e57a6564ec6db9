package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rewrite is a domain-synonym rule applied after case and accent folding.
// Replacement may reference capture groups with $1 syntax.
type Rewrite struct {
	Pattern     string `toml:"pattern" json:"pattern"`
	Replacement string `toml:"replacement" json:"replacement"`
}

type compiledRewrite struct {
	re          *regexp.Regexp
	replacement string
}

// Normalizer canonicalizes query and passage text. The same instance (or one
// built from the same rewrites) must be used on both sides so lexical and
// trigram matching compare like with like.
type Normalizer struct {
	rewrites []compiledRewrite
	version  string
}

// RE2's \s is ASCII only; \p{Z} adds NBSP and the other Unicode spaces.
var whitespaceRe = regexp.MustCompile(`[\s\p{Z}]+`)

// New compiles the rewrites in order. A rewrite whose replacement would be
// rewritten again by its own pattern is rejected, since that breaks
// idempotence.
func New(rewrites []Rewrite) (*Normalizer, error) {
	n := &Normalizer{rewrites: make([]compiledRewrite, 0, len(rewrites))}
	for i, rw := range rewrites {
		re, err := regexp.Compile(rw.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite %d: invalid pattern %q: %w", i, rw.Pattern, err)
		}
		if !strings.Contains(rw.Replacement, "$") && rw.Replacement != "" {
			out := collapseSpace(rw.Replacement)
			if re.ReplaceAllString(out, rw.Replacement) != out {
				return nil, fmt.Errorf("rewrite %d: replacement %q is not stable under %q", i, rw.Replacement, rw.Pattern)
			}
		}
		n.rewrites = append(n.rewrites, compiledRewrite{re: re, replacement: rw.Replacement})
	}
	n.version = computeVersion(rewrites)
	return n, nil
}

// MustNew is New that panics on error, for static rule sets.
func MustNew(rewrites []Rewrite) *Normalizer {
	n, err := New(rewrites)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize lowercases, strips diacritics, applies rewrites in order,
// collapses whitespace and trims. It never fails. Rewrites see text whose
// whitespace is already collapsed, so a pattern written with a single space
// matches the same input on every pass.
func (n *Normalizer) Normalize(text string) string {
	s := strings.ToLower(text)
	s = foldAccents(s)
	s = collapseSpace(s)
	for _, rw := range n.rewrites {
		s = rw.re.ReplaceAllString(s, rw.replacement)
	}
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Version identifies the rule set. Passages stamped with a different version
// need their normalized_content re-derived.
func (n *Normalizer) Version() string {
	return n.version
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func computeVersion(rewrites []Rewrite) string {
	h := sha256.New()
	h.Write([]byte("v1\x00"))
	for _, rw := range rewrites {
		h.Write([]byte(rw.Pattern))
		h.Write([]byte{0})
		h.Write([]byte(rw.Replacement))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
