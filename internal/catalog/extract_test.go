package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extract(t *testing.T, text string) domain.FilterSpec {
	t.Helper()
	spec, err := HeuristicExtractor{}.Extract(context.Background(), ExtractRequest{
		Text:       text,
		Categories: config.DefaultCategories,
	})
	require.NoError(t, err)
	return spec
}

func TestHeuristicExtractor_Prices(t *testing.T) {
	tests := []struct {
		text     string
		min, max *float64
	}{
		{"running shoes under $100", nil, domain.Float(100)},
		{"boots below 80 dollars", nil, domain.Float(80)},
		{"sneakers over $50", domain.Float(50), nil},
		{"heels between $40 and $80", domain.Float(40), domain.Float(80)},
		{"loafers $30-$60", domain.Float(30), domain.Float(60)},
		{"flats at least $25.50 and no more than $70", domain.Float(25.5), domain.Float(70)},
		{"boots under $1,200", nil, domain.Float(1200)},
		{"heels between $1,000 and $2,500.50", domain.Float(1000), domain.Float(2500.5)},
		{"boots $1,000-$1,500", domain.Float(1000), domain.Float(1500)},
		{"comfy sneakers", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			spec := extract(t, tt.text)
			assert.Equal(t, tt.min, spec.PriceMin)
			assert.Equal(t, tt.max, spec.PriceMax)
		})
	}
}

func TestHeuristicExtractor_ThousandsSeparator(t *testing.T) {
	spec := extract(t, "boots under $1,200")
	assert.Equal(t, 1200.0, *spec.PriceMax)
	assert.Equal(t, "boots", spec.Category)
	assert.Empty(t, spec.Keywords)
}

func TestHeuristicExtractor_ScenarioA(t *testing.T) {
	spec := extract(t, "running shoes under $100")
	assert.Equal(t, 100.0, *spec.PriceMax)
	assert.Equal(t, []string{"running", "shoe"}, spec.Keywords)
	assert.Empty(t, spec.Category)
}

func TestHeuristicExtractor_RatingSortLimit(t *testing.T) {
	spec := extract(t, "show me 5 hiking boots with 4+ stars")
	assert.Equal(t, 4.0, *spec.RatingMin)
	assert.Equal(t, 5, spec.Limit)

	spec = extract(t, "highly rated dress shoes")
	assert.Equal(t, 4.0, *spec.RatingMin)
	assert.Equal(t, "dress shoes", spec.Category)

	spec = extract(t, "cheapest sneakers")
	assert.Equal(t, domain.SortPriceAsc, spec.Sort)
	assert.Equal(t, "sneakers", spec.Category)

	spec = extract(t, "most expensive heels")
	assert.Equal(t, domain.SortPriceDesc, spec.Sort)

	spec = extract(t, "best rated loafers rated 4.5")
	assert.Equal(t, domain.SortRatingDesc, spec.Sort)
	assert.Equal(t, 4.5, *spec.RatingMin)
}

func TestHeuristicExtractor_CategoryLongestMatch(t *testing.T) {
	spec := extract(t, "black ankle boots")
	assert.Equal(t, "ankle boots", spec.Category)
	assert.Equal(t, []string{"black"}, spec.Keywords)

	spec = extract(t, "a waterproof hiking shoe")
	assert.Equal(t, "hiking shoes", spec.Category)
	assert.Equal(t, []string{"waterproof"}, spec.Keywords)
}

func TestHeuristicExtractor_FollowUps(t *testing.T) {
	prior := &domain.FilterSpec{Category: "athletic shoes", Keywords: []string{"running"}, RatingMin: domain.Float(4)}
	shown := domain.CandidateSet{
		{ID: 1, Name: "Shoe A", Price: 79.99},
		{ID: 2, Name: "Shoe B", Price: 95},
	}
	ctx := context.Background()

	spec, err := HeuristicExtractor{}.Extract(ctx, ExtractRequest{
		Text: "cheaper ones", Prior: prior, PriorCandidates: shown, Categories: config.DefaultCategories,
	})
	require.NoError(t, err)
	assert.InDelta(t, 79.98, *spec.PriceMax, 0.0001)
	assert.Equal(t, domain.SortPriceAsc, spec.Sort)
	assert.Equal(t, "athletic shoes", spec.Category)
	assert.Equal(t, []string{"running"}, spec.Keywords)
	assert.Equal(t, 4.0, *spec.RatingMin)

	spec, err = HeuristicExtractor{}.Extract(ctx, ExtractRequest{
		Text: "anything pricier?", Prior: prior, PriorCandidates: shown, Categories: config.DefaultCategories,
	})
	require.NoError(t, err)
	assert.InDelta(t, 95.01, *spec.PriceMin, 0.0001)
	assert.Equal(t, domain.SortPriceDesc, spec.Sort)

	// A fresh request does not inherit the previous context.
	spec, err = HeuristicExtractor{}.Extract(ctx, ExtractRequest{
		Text: "leather loafers", Prior: prior, PriorCandidates: shown, Categories: config.DefaultCategories,
	})
	require.NoError(t, err)
	assert.Equal(t, "loafers", spec.Category)
	assert.Equal(t, []string{"leather"}, spec.Keywords)
	assert.Nil(t, spec.RatingMin)
}

func TestModelExtractor(t *testing.T) {
	log := logging.New(nil, "silent")

	t.Run("uses model JSON", func(t *testing.T) {
		var got llm.CompletionRequest
		client := &llm.MockClient{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			got = req
			return &llm.CompletionResponse{Content: "```json\n{\"priceMax\": 100, \"keywords\": [\"running\"], \"sort\": \"price_asc\", \"sql\": \"DROP TABLE products\"}\n```"}, nil
		}}
		e := NewModelExtractor(client, "gpt-4o-mini", log)

		spec, err := e.Extract(context.Background(), ExtractRequest{
			Text:            "running shoes under $100",
			Categories:      []string{"sneakers"},
			PriorCandidates: domain.CandidateSet{{ID: 1, Price: 50}, {ID: 2, Price: 70}},
		})
		require.NoError(t, err)
		assert.Equal(t, 100.0, *spec.PriceMax)
		assert.Equal(t, []string{"running"}, spec.Keywords)
		assert.Equal(t, domain.SortPriceAsc, spec.Sort)

		assert.True(t, got.JSONOnly)
		assert.Equal(t, "gpt-4o-mini", got.Model)
		assert.Contains(t, got.System, "Categories: sneakers")
		assert.Contains(t, got.System, "$50.00 to $70.00")
		assert.Empty(t, got.Tools)
	})

	t.Run("malformed reply falls back", func(t *testing.T) {
		client := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "sorry, I can't do that"}, nil
		}}
		spec, err := NewModelExtractor(client, "", log).Extract(context.Background(), ExtractRequest{
			Text: "sneakers under $60", Categories: config.DefaultCategories,
		})
		require.NoError(t, err)
		assert.Equal(t, 60.0, *spec.PriceMax)
		assert.Equal(t, "sneakers", spec.Category)
	})

	t.Run("model error falls back", func(t *testing.T) {
		client := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "openai", Code: 503, Message: "overloaded"}
		}}
		spec, err := NewModelExtractor(client, "", log).Extract(context.Background(), ExtractRequest{
			Text: "boots over $90", Categories: config.DefaultCategories,
		})
		require.NoError(t, err)
		assert.Equal(t, 90.0, *spec.PriceMin)
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("nil client is heuristic", func(t *testing.T) {
		spec, err := NewModelExtractor(nil, "", log).Extract(context.Background(), ExtractRequest{Text: "flats under $40"})
		require.NoError(t, err)
		assert.Equal(t, 40.0, *spec.PriceMax)
	})
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, ExtractRequest) (domain.FilterSpec, error) {
	return domain.FilterSpec{}, errors.New("boom")
}

func TestTranslator_ScenarioA(t *testing.T) {
	s := testStore(t)
	tr := NewTranslator(s, nil, TranslatorOptions{Categories: config.DefaultCategories}, logging.New(nil, "silent"))

	res, err := tr.Translate(context.Background(), "running shoes under $100", nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Shoe A", "Shoe B"}, names(res.Candidates))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 100.0, *res.Spec.PriceMax)
}

func TestTranslator_FollowUpCheaper(t *testing.T) {
	s := testStore(t)
	tr := NewTranslator(s, nil, TranslatorOptions{}, logging.New(nil, "silent"))
	ctx := context.Background()

	first, err := tr.Translate(ctx, "running shoes under $100", nil, nil)
	require.NoError(t, err)

	next, err := tr.Translate(ctx, "cheaper ones", &first.Spec, first.Candidates)
	require.NoError(t, err)
	assert.Empty(t, next.Candidates, "nothing is cheaper than Shoe A among running shoes")
	assert.Equal(t, 0, next.Total)
}

func TestTranslator_EmptyAndErrors(t *testing.T) {
	s := testStore(t)
	log := logging.New(nil, "silent")

	_, err := NewTranslator(s, nil, TranslatorOptions{}, log).Translate(context.Background(), "   ", nil, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Extraction failures degrade to keyword search.
	res, err := NewTranslator(s, failingExtractor{}, TranslatorOptions{}, log).Translate(context.Background(), "Oxford", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Oxford Classic"}, names(res.Candidates))

	// Unknown categories become keywords instead of failing.
	res, err = NewTranslator(s, nil, TranslatorOptions{}, log).Translate(context.Background(), "zzz-unknown-thing", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestTranslator_CategoriesFallback(t *testing.T) {
	log := logging.New(nil, "silent")
	empty := &stubStore{}
	tr := NewTranslator(empty, nil, TranslatorOptions{Categories: []string{"boots"}}, log)
	assert.Equal(t, []string{"boots"}, tr.Categories(context.Background()))

	s := testStore(t)
	tr = NewTranslator(s, nil, TranslatorOptions{Categories: []string{"boots"}}, log)
	assert.True(t, strings.Contains(strings.Join(tr.Categories(context.Background()), ","), "athletic shoes"))
}

type stubStore struct {
	err error
}

func (s *stubStore) Search(context.Context, domain.FilterSpec) (SearchResult, error) {
	return SearchResult{}, s.err
}

func (s *stubStore) Categories(context.Context) ([]string, error) { return nil, s.err }

func (s *stubStore) Get(context.Context, []int64) ([]domain.Product, error) { return nil, s.err }
