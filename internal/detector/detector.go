// Package detector decides which catalog products a draft reply actually
// names or recommends. Its output is always a subset of the candidates the
// turn surfaced, ordered by first mention in the text.
package detector

import (
	"context"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// Classifier returns the ids of candidates referenced by text. Ids outside
// candidates are tolerated here and discarded by the Detector.
type Classifier interface {
	Classify(ctx context.Context, text string, candidates domain.CandidateSet) ([]int64, error)
}

// Source names the classifier that produced a Result.
type Source string

const (
	SourceNone    Source = "none"
	SourceModel   Source = "model"
	SourceLexical Source = "lexical"
)

// Result is the outcome of one detection.
type Result struct {
	Products []domain.Product
	Source   Source
	// Discarded holds ids the classifier returned that were not candidates.
	Discarded []int64
}

// IDs returns the detected product ids in order.
func (r Result) IDs() []int64 {
	return domain.CandidateSet(r.Products).IDs()
}

// Detector wraps a Classifier with the containment and ordering rules.
type Detector struct {
	classifier Classifier
	lexical    LexicalClassifier
	log        *logging.Logger
}

// New creates a Detector. A nil classifier means lexical matching only.
func New(classifier Classifier, log *logging.Logger) *Detector {
	return &Detector{classifier: classifier, log: log.Sub("detector")}
}

// Detect returns the candidates referenced by text. It never fails: a
// classifier error degrades to lexical matching.
func (d *Detector) Detect(ctx context.Context, text string, candidates domain.CandidateSet) Result {
	if len(candidates) == 0 || strings.TrimSpace(text) == "" {
		return Result{Source: SourceNone}
	}

	source := SourceLexical
	var ids []int64
	if d.classifier != nil {
		var err error
		ids, err = d.classifier.Classify(ctx, text, candidates)
		if err != nil {
			d.log.Warn().Err(err).Msg("classifier failed, using lexical match")
		} else {
			source = SourceModel
		}
	}
	if source == SourceLexical {
		ids, _ = d.lexical.Classify(ctx, text, candidates)
	}

	res := Result{Source: source}
	seen := make(map[int64]bool, len(ids))
	var kept domain.CandidateSet
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, ok := candidates.Lookup(id)
		if !ok {
			res.Discarded = append(res.Discarded, id)
			continue
		}
		kept = append(kept, p)
	}
	if len(res.Discarded) > 0 {
		d.log.Warn().
			Interface("discarded", res.Discarded).
			Interface("candidates", candidates.IDs()).
			Msg("classifier returned ids outside the candidate set")
	}

	res.Products = orderByMention(text, kept)
	return res
}
