package detector

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// LexicalClassifier matches product names in the text as whole phrases,
// ignoring case. Longer names claim their span first, so "Trail Runner"
// does not also count as a mention of "Runner".
type LexicalClassifier struct{}

// Classify implements Classifier.
func (LexicalClassifier) Classify(_ context.Context, text string, candidates domain.CandidateSet) ([]int64, error) {
	mentions := findMentions(text, candidates)
	ids := make([]int64, 0, len(mentions))
	for _, m := range mentions {
		ids = append(ids, m.product.ID)
	}
	return ids, nil
}

type mention struct {
	product domain.Product
	pos     int
}

type span struct{ start, end int }

// findMentions returns the candidates named in text, ordered by the
// position of their first mention.
func findMentions(text string, candidates domain.CandidateSet) []mention {
	lower := strings.ToLower(text)

	byLength := append(domain.CandidateSet(nil), candidates...)
	sort.SliceStable(byLength, func(i, j int) bool { return len(byLength[i].Name) > len(byLength[j].Name) })

	var claimed []span
	var out []mention
	for _, p := range byLength {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		first := -1
		for _, s := range phraseSpans(lower, name) {
			if overlaps(claimed, s) {
				continue
			}
			claimed = append(claimed, s)
			if first < 0 {
				first = s.start
			}
		}
		if first >= 0 {
			out = append(out, mention{product: p, pos: first})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// phraseSpans returns every whole-word occurrence of phrase in text.
func phraseSpans(text, phrase string) []span {
	var spans []span
	for i := 0; i <= len(text)-len(phrase); {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			break
		}
		start, end := i+j, i+j+len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			spans = append(spans, span{start, end})
			i = end
			continue
		}
		i = start + 1
	}
	return spans
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlaps(spans []span, s span) bool {
	for _, c := range spans {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

// orderByMention sorts products by their first lexical mention in text.
// Products the text never names literally keep their relative order after
// the named ones.
func orderByMention(text string, products []domain.Product) []domain.Product {
	if len(products) < 2 {
		return products
	}
	pos := make(map[int64]int, len(products))
	for _, m := range findMentions(text, products) {
		pos[m.product.ID] = m.pos
	}
	out := append([]domain.Product(nil), products...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].ID]
		pj, jok := pos[out[j].ID]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}
