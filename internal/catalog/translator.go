package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// Translation is the outcome of one catalog request.
type Translation struct {
	Spec       domain.FilterSpec
	Candidates domain.CandidateSet
	Total      int
}

// TranslatorOptions tunes a Translator.
type TranslatorOptions struct {
	// Categories is used when the store reports none.
	Categories []string
	Limits     Limits
}

// Translator turns free text into a normalized FilterSpec and runs it
// against the catalog.
type Translator struct {
	store     Store
	extractor Extractor
	opts      TranslatorOptions
	log       *logging.Logger
}

// NewTranslator creates a Translator. A nil extractor uses the heuristic one.
func NewTranslator(store Store, extractor Extractor, opts TranslatorOptions, log *logging.Logger) *Translator {
	if extractor == nil {
		extractor = HeuristicExtractor{}
	}
	return &Translator{store: store, extractor: extractor, opts: opts, log: log.Sub("catalog.translator")}
}

// Categories returns the allow-listed categories: the store's own list when
// it has one, otherwise the configured defaults.
func (t *Translator) Categories(ctx context.Context) []string {
	cats, err := t.store.Categories(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("listing categories failed, using defaults")
	}
	if len(cats) == 0 {
		return t.opts.Categories
	}
	return cats
}

// Translate extracts, normalizes and executes a catalog request. prior and
// priorCandidates carry the previous turn's context and may be empty. An
// empty candidate set is a valid result. Store failures are returned as
// ToolExecutionError.
func (t *Translator) Translate(ctx context.Context, text string, prior *domain.FilterSpec, priorCandidates domain.CandidateSet) (Translation, error) {
	if strings.TrimSpace(text) == "" {
		return Translation{}, domain.Validationf("catalog.translate", "empty query")
	}
	start := time.Now()
	categories := t.Categories(ctx)

	raw, err := t.extractor.Extract(ctx, ExtractRequest{
		Text:            text,
		Prior:           prior,
		PriorCandidates: priorCandidates,
		Categories:      categories,
	})
	if err != nil {
		// Extraction never blocks a search; fall back to plain keywords.
		t.log.Warn().Err(err).Msg("extraction failed, searching by keywords")
		raw = domain.FilterSpec{Keywords: strings.Fields(text)}
	}

	spec := Normalize(raw, categories, t.opts.Limits)
	res, err := t.store.Search(ctx, spec)
	if err != nil {
		return Translation{Spec: spec}, err
	}

	t.log.Debug().
		Str("query", text).
		Interface("filter", spec).
		Int("matches", len(res.Products)).
		Int("total", res.Total).
		Dur("duration", time.Since(start)).
		Msg("catalog query translated")

	return Translation{Spec: spec, Candidates: domain.CandidateSet(res.Products), Total: res.Total}, nil
}
