package catalog

import (
	"context"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// ExtractRequest is the input to an Extractor.
type ExtractRequest struct {
	Text string

	// Prior is the filter behind the previous turn's results, if any.
	Prior *domain.FilterSpec
	// PriorCandidates are the products the previous turn showed.
	PriorCandidates domain.CandidateSet
	// Categories is the allow-list the spec's Category must come from.
	Categories []string
}

// Extractor maps a shopper request onto a FilterSpec. The result is
// normalized afterwards, so extractors may be sloppy about ranges.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (domain.FilterSpec, error)
}

// HeuristicExtractor is a deterministic rule-based Extractor. It needs no
// model and is the fallback for ModelExtractor.
type HeuristicExtractor struct{}

// amount matches plain numbers and ones with thousands separators.
const amount = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

const num = `\$?\s*` + amount

var (
	reBetween  = regexp.MustCompile(`between\s+` + num + `\s+and\s+` + num)
	reRange    = regexp.MustCompile(`\$\s*` + amount + `\s*(?:-|to)\s*\$?\s*` + amount)
	reMax      = regexp.MustCompile(`(?:under|below|less than|cheaper than|at most|up to|no more than|max(?:imum)?(?: of)?|within)\s+` + num)
	reMin      = regexp.MustCompile(`(?:over|above|more than|at least|min(?:imum)?(?: of)?|starting at)\s+` + num)
	reStars    = regexp.MustCompile(`(\d(?:\.\d)?)\s*(?:\+|or more|or higher|and up)?\s*stars?`)
	reRatedMin = regexp.MustCompile(`rated\s+(?:at least\s+)?(\d(?:\.\d)?)`)
	reTopN     = regexp.MustCompile(`(?:top|show me|first|give me)\s+(\d{1,2})\b`)
	reToken    = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)
)

var (
	highlyRated = []string{"highly rated", "top rated", "well rated", "well reviewed", "best reviewed", "high rating"}
	sortCheap   = []string{"cheapest", "lowest price", "least expensive", "budget", "affordable", "inexpensive"}
	sortPricey  = []string{"most expensive", "priciest", "premium", "high end", "high-end", "luxury"}
	sortRating  = []string{"best rated", "highest rated", "top rated", "best reviewed"}
	cheaper     = []string{"cheaper", "less expensive", "lower price", "more affordable"}
	pricier     = []string{"more expensive", "pricier", "fancier", "higher end", "nicer"}
	backRefs    = []string{"ones", "them", "those", "these", "similar", "same", "other", "others", "cheaper", "pricier"}
)

// stopWords never become keywords.
var stopWords = toSet(strings.Fields(`
a an and any anything are as at be best but buy by can could do does for from get give good
great have help i id im in is it its like looking me more most my need nice of on
one ones or our please pair pairs price priced prices product products recommend
search see sell sells selling shop show similar so some something than that the
their them these they this those to under over up us want was we what whats which
with would you your dollars dollar bucks usd cheap cheaper cheapest expensive pricier
priciest affordable budget star stars rated rating highly top well reviewed
reviews review between least less above below within maximum minimum max min around
about also just only really very same other others first item items find show stuff
thing things buying looking premium luxury fancier nicer higher lower end
`))

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func containsAny(text string, phrases []string) bool {
	return slices.ContainsFunc(phrases, func(p string) bool { return containsPhrase(text, p) })
}

// containsPhrase reports a whole-word occurrence of phrase in text.
func containsPhrase(text, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-'
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return f
}

// Extract implements Extractor.
func (HeuristicExtractor) Extract(_ context.Context, req ExtractRequest) (domain.FilterSpec, error) {
	text := strings.ToLower(strings.TrimSpace(req.Text))
	var spec domain.FilterSpec

	// Matched price and rating phrases are cut out so their numbers and
	// words do not leak into keywords.
	rest := text
	cut := func(re *regexp.Regexp) []string {
		m := re.FindStringSubmatch(rest)
		if m != nil {
			rest = strings.Replace(rest, m[0], " ", 1)
		}
		return m
	}

	if m := cut(reBetween); m != nil {
		spec.PriceMin, spec.PriceMax = domain.Float(parseFloat(m[1])), domain.Float(parseFloat(m[2]))
	} else if m := cut(reRange); m != nil {
		spec.PriceMin, spec.PriceMax = domain.Float(parseFloat(m[1])), domain.Float(parseFloat(m[2]))
	} else {
		if m := cut(reMax); m != nil {
			spec.PriceMax = domain.Float(parseFloat(m[1]))
		}
		if m := cut(reMin); m != nil {
			spec.PriceMin = domain.Float(parseFloat(m[1]))
		}
	}

	if m := cut(reStars); m != nil {
		spec.RatingMin = domain.Float(parseFloat(m[1]))
	} else if m := cut(reRatedMin); m != nil {
		spec.RatingMin = domain.Float(parseFloat(m[1]))
	} else if containsAny(text, highlyRated) {
		spec.RatingMin = domain.Float(4.0)
	}

	if m := cut(reTopN); m != nil {
		spec.Limit, _ = strconv.Atoi(m[1])
	}

	switch {
	case containsAny(text, sortRating):
		spec.Sort = domain.SortRatingDesc
	case containsAny(text, sortPricey):
		spec.Sort = domain.SortPriceDesc
	case containsAny(text, sortCheap):
		spec.Sort = domain.SortPriceAsc
	}

	// Longest category phrase wins so "ankle boots" beats "boots".
	cats := append([]string(nil), req.Categories...)
	sort.SliceStable(cats, func(i, j int) bool { return len(cats[i]) > len(cats[j]) })
	for _, c := range cats {
		lc := strings.ToLower(c)
		for _, form := range []string{lc, singular(lc)} {
			if containsPhrase(rest, form) {
				spec.Category = c
				rest = strings.Replace(rest, form, " ", 1)
				break
			}
		}
		if spec.Category != "" {
			break
		}
	}

	for _, tok := range reToken.FindAllString(rest, -1) {
		if stopWords[tok] || isNumber(tok) {
			continue
		}
		spec.Keywords = append(spec.Keywords, singular(tok))
	}

	applyFollowUp(text, &spec, req)
	return spec, nil
}

// applyFollowUp resolves requests that lean on the previous turn, such as
// "cheaper ones" or "show me those in black".
func applyFollowUp(text string, spec *domain.FilterSpec, req ExtractRequest) {
	if req.Prior == nil && len(req.PriorCandidates) == 0 {
		return
	}

	if containsAny(text, cheaper) && spec.PriceMax == nil {
		if lo, ok := priceBounds(req.PriorCandidates, false); ok {
			spec.PriceMax = domain.Float(max(lo-0.01, 0))
		} else if req.Prior != nil && req.Prior.PriceMax != nil {
			spec.PriceMax = domain.Float(*req.Prior.PriceMax * 0.8)
		}
		spec.Sort = domain.SortPriceAsc
	}
	if containsAny(text, pricier) && spec.PriceMin == nil {
		if hi, ok := priceBounds(req.PriorCandidates, true); ok {
			spec.PriceMin = domain.Float(hi + 0.01)
		} else if req.Prior != nil && req.Prior.PriceMin != nil {
			spec.PriceMin = domain.Float(*req.Prior.PriceMin * 1.25)
		}
		spec.Sort = domain.SortPriceDesc
	}

	if req.Prior == nil || !containsAny(text, backRefs) {
		return
	}
	if spec.Category == "" {
		spec.Category = req.Prior.Category
	}
	if len(spec.Keywords) == 0 {
		spec.Keywords = append([]string(nil), req.Prior.Keywords...)
	}
	if spec.RatingMin == nil && req.Prior.RatingMin != nil {
		spec.RatingMin = domain.Float(*req.Prior.RatingMin)
	}
}

// priceBounds returns the lowest (or highest) price in the set.
func priceBounds(c domain.CandidateSet, highest bool) (float64, bool) {
	if len(c) == 0 {
		return 0, false
	}
	v := c[0].Price
	for _, p := range c[1:] {
		if highest {
			v = max(v, p.Price)
		} else {
			v = min(v, p.Price)
		}
	}
	return v, true
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
