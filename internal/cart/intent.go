// Package cart turns detected product references and explicit shopper
// commands into cart-mutation instructions. It never touches a cart; the
// caller owns cart state and applies the returned actions.
package cart

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// Intent is an explicit cart command recognized in a shopper's message.
type Intent struct {
	Kind     domain.CartActionKind
	Product  domain.Product // zero for clear
	Quantity int
	// Pos is the byte offset of the command in the message.
	Pos int
}

var (
	reClear = regexp.MustCompile(`\b(?:empty|clear|reset|wipe)\s+(?:out\s+)?(?:my|the)\s+(?:shopping\s+)?(?:cart|basket|bag)\b` +
		`|\b(?:remove|delete)\s+(?:everything|all items|all of them|all)\b` +
		`|\bstart\s+(?:my\s+cart\s+)?over\b`)

	reVerb = regexp.MustCompile(`\b(?:remove|delete|drop|take out|get rid of|add|put|throw in|i'll take|i will take|i'd like|i want|change|set|update)\b`)

	reUpdateQty = regexp.MustCompile(`\bto\s+(\d{1,3}|` + numberWords + `)\b`)
	reAddQty    = regexp.MustCompile(`\b(\d{1,3}|` + numberWords + `)\s*(?:x\b|pairs?\s+of\b|pairs?\b|of\b)`)
	reSuffixQty = regexp.MustCompile(`\bx\s*(\d{1,3})\b`)
	reOrdinal   = regexp.MustCompile(`\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|last|1st|2nd|3rd|[4-9]th|10th)\b` +
		`|(?:#|\bnumber\s+|\bno\.\s*|\bitem\s+|\bproduct\s+|\boption\s+)(\d{1,2})\b`)
	reBareNumber = regexp.MustCompile(`\b(\d{1,2})\b`)
	rePronoun    = regexp.MustCompile(`\b(?:it|that one|this one|that|this)\b`)
)

const numberWords = `one|two|three|four|five|six|seven|eight|nine|ten`

var wordValues = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var ordinalValues = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"1st": 1, "2nd": 2, "3rd": 3, "10th": 10,
}

func verbKind(verb string) domain.CartActionKind {
	switch verb {
	case "remove", "delete", "drop", "take out", "get rid of":
		return domain.CartRemove
	case "change", "set", "update":
		return domain.CartUpdate
	default:
		return domain.CartAdd
	}
}

// explicitVerb reports whether bare numbers after the verb name list
// positions ("add 1 and 3"). Softer verbs like "i want" do not, so
// "I want 5 boots" is not read as item five.
func explicitVerb(verb string) bool {
	switch verb {
	case "add", "put", "remove", "delete", "drop", "i'll take", "i will take":
		return true
	}
	return false
}

func parseNumber(s string) int {
	if v, ok := wordValues[s]; ok {
		return v
	}
	n, _ := strconv.Atoi(s)
	return n
}

// LooksLikeCommand reports whether message reads as a cart command rather
// than a product request, regardless of whether its targets resolve.
func LooksLikeCommand(message string) bool {
	text := strings.ToLower(message)
	if reClear.MatchString(text) {
		return true
	}
	for _, verb := range reVerb.FindAllString(text, -1) {
		if explicitVerb(verb) || verbKind(verb) != domain.CartAdd {
			return true
		}
	}
	return false
}

// ParseIntents recognizes explicit cart commands in message. reference is
// the product list the shopper is looking at, in display order, and is used
// to resolve names, ordinals ("the second one") and list numbers. Intents
// are returned in message order.
func ParseIntents(message string, reference []domain.Product) []Intent {
	text := strings.ToLower(message)
	var intents []Intent

	for _, loc := range reClear.FindAllStringIndex(text, -1) {
		intents = append(intents, Intent{Kind: domain.CartClear, Pos: loc[0]})
		text = blank(text, loc[0], loc[1])
	}

	verbs := reVerb.FindAllStringIndex(text, -1)
	for i, loc := range verbs {
		end := len(text)
		if i+1 < len(verbs) {
			end = verbs[i+1][0]
		}
		verb := text[loc[0]:loc[1]]
		segment := text[loc[1]:end]
		intents = append(intents, segmentIntents(verb, segment, loc[0], reference)...)
	}

	sort.SliceStable(intents, func(i, j int) bool { return intents[i].Pos < intents[j].Pos })
	return intents
}

func segmentIntents(verb, segment string, pos int, reference []domain.Product) []Intent {
	kind := verbKind(verb)

	quantity := 1
	switch kind {
	case domain.CartUpdate:
		m := reUpdateQty.FindStringSubmatchIndex(segment)
		if m == nil {
			return nil
		}
		quantity = parseNumber(segment[m[2]:m[3]])
		segment = blank(segment, m[0], m[1])
	case domain.CartAdd:
		if m := reAddQty.FindStringSubmatchIndex(segment); m != nil {
			quantity = parseNumber(segment[m[2]:m[3]])
			segment = blank(segment, m[0], m[1])
		} else if m := reSuffixQty.FindStringSubmatchIndex(segment); m != nil {
			quantity = parseNumber(segment[m[2]:m[3]])
			segment = blank(segment, m[0], m[1])
		}
	}

	products := resolve(segment, reference, explicitVerb(verb))
	intents := make([]Intent, 0, len(products))
	for _, p := range products {
		in := Intent{Kind: kind, Product: p, Quantity: quantity, Pos: pos}
		if kind == domain.CartRemove {
			in.Quantity = 0
		}
		intents = append(intents, in)
	}
	return intents
}

type ref struct {
	product domain.Product
	pos     int
}

// resolve finds the products a command segment refers to, in order.
func resolve(segment string, reference []domain.Product, bareNumbers bool) []domain.Product {
	var refs []ref

	// Names first, longest first, blanking each match so shorter names and
	// digits inside names are not matched again.
	byLength := append([]domain.Product(nil), reference...)
	sort.SliceStable(byLength, func(i, j int) bool { return len(byLength[i].Name) > len(byLength[j].Name) })
	for _, p := range byLength {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		if i := indexPhrase(segment, name); i >= 0 {
			refs = append(refs, ref{p, i})
			segment = blank(segment, i, i+len(name))
		}
	}

	for _, m := range reOrdinal.FindAllStringSubmatchIndex(segment, -1) {
		var n int
		switch {
		case m[2] >= 0:
			word := segment[m[2]:m[3]]
			if word == "last" {
				n = len(reference)
			} else if v, ok := ordinalValues[word]; ok {
				n = v
			} else {
				n, _ = strconv.Atoi(strings.TrimSuffix(word, "th"))
			}
		case m[4] >= 0:
			n, _ = strconv.Atoi(segment[m[4]:m[5]])
		}
		if n >= 1 && n <= len(reference) {
			refs = append(refs, ref{reference[n-1], m[0]})
		}
		segment = blank(segment, m[0], m[1])
	}

	if len(refs) == 0 && bareNumbers {
		for _, m := range reBareNumber.FindAllStringSubmatchIndex(segment, -1) {
			n, _ := strconv.Atoi(segment[m[2]:m[3]])
			if n >= 1 && n <= len(reference) {
				refs = append(refs, ref{reference[n-1], m[0]})
			}
		}
	}

	if len(refs) == 0 && len(reference) == 1 && rePronoun.MatchString(segment) {
		refs = append(refs, ref{reference[0], 0})
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].pos < refs[j].pos })
	out := make([]domain.Product, 0, len(refs))
	seen := make(map[int64]bool, len(refs))
	for _, r := range refs {
		if !seen[r.product.ID] {
			seen[r.product.ID] = true
			out = append(out, r.product)
		}
	}
	return out
}

// indexPhrase returns the offset of the first whole-word occurrence of
// phrase in s, or -1.
func indexPhrase(s, phrase string) int {
	for i := 0; i <= len(s)-len(phrase); {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return -1
		}
		start, end := i+j, i+j+len(phrase)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return start
		}
		i = start + 1
	}
	return -1
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}

// blank overwrites s[start:end] with spaces, keeping offsets stable.
func blank(s string, start, end int) string {
	return s[:start] + strings.Repeat(" ", end-start) + s[end:]
}
