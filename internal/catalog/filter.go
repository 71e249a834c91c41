// Package catalog turns shopper requests into bounded, read-only catalog
// queries. Free text is first mapped onto an allow-listed FilterSpec by an
// Extractor, the spec is normalized, and only then compiled into SQL whose
// every user-influenced value is a bound parameter.
package catalog

import (
	"fmt"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// Result bounds.
const (
	DefaultLimit = 10
	MaxLimit     = 50

	maxKeywords   = 8
	minKeywordLen = 2
	maxKeywordLen = 32
)

// Limits overrides the default and maximum result counts.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) resolve() Limits {
	if l.Max <= 0 || l.Max > MaxLimit {
		l.Max = MaxLimit
	}
	if l.Default <= 0 {
		l.Default = DefaultLimit
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

// Normalize clamps a FilterSpec into its valid domain. It never fails:
// out-of-range values are clamped, unknown values fall back to defaults, and
// an unrecognized category degrades into keywords with a note.
func Normalize(spec domain.FilterSpec, categories []string, limits Limits) domain.FilterSpec {
	limits = limits.resolve()
	out := domain.FilterSpec{
		Sort:  spec.Sort,
		Limit: spec.Limit,
		Notes: append([]string(nil), spec.Notes...),
	}

	if spec.PriceMin != nil {
		out.PriceMin = domain.Float(max(*spec.PriceMin, 0))
	}
	if spec.PriceMax != nil {
		out.PriceMax = domain.Float(max(*spec.PriceMax, 0))
	}
	if out.PriceMin != nil && out.PriceMax != nil && *out.PriceMin > *out.PriceMax {
		out.PriceMin, out.PriceMax = out.PriceMax, out.PriceMin
		out.Notes = append(out.Notes, "price bounds were swapped")
	}
	if spec.RatingMin != nil {
		out.RatingMin = domain.Float(min(max(*spec.RatingMin, 0), 5))
	}

	keywords := spec.Keywords
	if c := strings.TrimSpace(spec.Category); c != "" {
		if canonical, ok := MatchCategory(c, categories); ok {
			out.Category = canonical
		} else {
			keywords = append(append([]string(nil), keywords...), strings.Fields(c)...)
			out.Notes = append(out.Notes, fmt.Sprintf("unknown category %q matched as keywords", c))
		}
	}
	out.Keywords = SanitizeKeywords(keywords)

	if !out.Sort.Valid() {
		out.Sort = domain.SortRelevance
	}
	switch {
	case out.Limit <= 0:
		out.Limit = limits.Default
	case out.Limit > limits.Max:
		out.Limit = limits.Max
	}
	return out
}

// MatchCategory finds the allow-listed category equal to name, ignoring case
// and a trailing plural "s".
func MatchCategory(name string, categories []string) (string, bool) {
	want := singular(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range categories {
		if singular(strings.ToLower(c)) == want {
			return c, true
		}
	}
	return "", false
}

// SanitizeKeywords lowercases, strips everything outside [a-z0-9-],
// de-duplicates and bounds the keyword list.
func SanitizeKeywords(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range in {
		for _, field := range strings.Fields(strings.ToLower(raw)) {
			kw := strings.Map(func(r rune) rune {
				if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
					return r
				}
				return -1
			}, field)
			kw = strings.Trim(kw, "-")
			if len(kw) < minKeywordLen || len(kw) > maxKeywordLen || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
			if len(out) == maxKeywords {
				return out
			}
		}
	}
	return out
}

// singular strips a plural "s" from the last word: "ankle boots" → "ankle boot".
func singular(s string) string {
	if len(s) > 3 && strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return s[:len(s)-1]
	}
	return s
}
