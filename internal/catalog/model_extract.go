package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// ModelExtractor asks the language model to fill the allow-listed filter
// fields. The model only ever produces values for known fields; it never
// writes query text. Any failure falls back to the heuristic extractor.
type ModelExtractor struct {
	client   llm.Client
	model    string
	fallback Extractor
	log      *logging.Logger
}

// NewModelExtractor creates a model-backed extractor. model may be empty to
// use the client's default.
func NewModelExtractor(client llm.Client, model string, log *logging.Logger) *ModelExtractor {
	return &ModelExtractor{
		client:   client,
		model:    model,
		fallback: HeuristicExtractor{},
		log:      log.Sub("catalog.extract"),
	}
}

// modelFilter is the only shape accepted from the model. Unknown fields in
// the reply are dropped by the decoder.
type modelFilter struct {
	PriceMin  *float64 `json:"priceMin"`
	PriceMax  *float64 `json:"priceMax"`
	Category  string   `json:"category"`
	RatingMin *float64 `json:"ratingMin"`
	Keywords  []string `json:"keywords"`
	Sort      string   `json:"sort"`
	Limit     int      `json:"limit"`
}

const extractionPrompt = `You convert a shopper's request for a shoe store into a product filter.
Reply with a single JSON object using only these optional fields:
  "priceMin": number, "priceMax": number (US dollars),
  "category": one of the categories listed below, or omit,
  "ratingMin": number from 0 to 5,
  "keywords": array of short lowercase words describing the product (e.g. "running", "leather", "black"),
  "sort": one of "relevance", "price_asc", "price_desc", "rating_desc",
  "limit": number of products wanted.
Do not include generic words such as "shoes", "show", "want" or prices in keywords.
If the request refers to earlier results ("cheaper ones", "those in red"), use the previous filter and results below.`

// Extract implements Extractor.
func (e *ModelExtractor) Extract(ctx context.Context, req ExtractRequest) (domain.FilterSpec, error) {
	if e.client == nil {
		return e.fallback.Extract(ctx, req)
	}

	spec, err := e.extract(ctx, req)
	if err != nil {
		e.log.Warn().Err(err).Msg("model extraction failed, using heuristic")
		return e.fallback.Extract(ctx, req)
	}
	return spec, nil
}

func (e *ModelExtractor) extract(ctx context.Context, req ExtractRequest) (domain.FilterSpec, error) {
	var system strings.Builder
	system.WriteString(extractionPrompt)
	system.WriteString("\n\nCategories: ")
	system.WriteString(strings.Join(req.Categories, ", "))
	if req.Prior != nil {
		if data, err := json.Marshal(req.Prior); err == nil {
			system.WriteString("\nPrevious filter: ")
			system.Write(data)
		}
	}
	if lo, ok := priceBounds(req.PriorCandidates, false); ok {
		hi, _ := priceBounds(req.PriorCandidates, true)
		fmt.Fprintf(&system, "\nPrevious results: %d products priced $%.2f to $%.2f", len(req.PriorCandidates), lo, hi)
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Model:    e.model,
		System:   system.String(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: req.Text}},
		JSONOnly: true,
	})
	if err != nil {
		return domain.FilterSpec{}, err
	}

	var mf modelFilter
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(resp.Content)), &mf); err != nil {
		return domain.FilterSpec{}, fmt.Errorf("decoding filter: %w", err)
	}
	return domain.FilterSpec{
		PriceMin:  mf.PriceMin,
		PriceMax:  mf.PriceMax,
		Category:  mf.Category,
		RatingMin: mf.RatingMin,
		Keywords:  mf.Keywords,
		Sort:      domain.SortOrder(mf.Sort),
		Limit:     mf.Limit,
	}, nil
}
