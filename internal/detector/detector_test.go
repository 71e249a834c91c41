package detector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shoeA = domain.Product{ID: 1, Name: "Shoe A", Price: 79.99, Rating: 4.5, Category: "athletic shoes"}
	shoeB = domain.Product{ID: 2, Name: "Shoe B", Price: 95, Rating: 4.2, Category: "athletic shoes"}
	shoeC = domain.Product{ID: 3, Name: "Shoe C", Price: 120, Rating: 4.8, Category: "athletic shoes"}
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func replyWith(content string) *llm.MockClient {
	return &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: content}, nil
	}}
}

func TestDetect_ScenarioB(t *testing.T) {
	c := domain.CandidateSet{shoeA, shoeB}

	res := New(nil, silentLog()).Detect(context.Background(), "I recommend Shoe A ($79.99)", c)
	assert.Equal(t, []int64{1}, res.IDs())
	assert.Equal(t, SourceLexical, res.Source)

	res = New(NewModelClassifier(replyWith(`{"ids":[1]}`), ""), silentLog()).
		Detect(context.Background(), "I recommend Shoe A ($79.99)", c)
	assert.Equal(t, []int64{1}, res.IDs())
	assert.Equal(t, SourceModel, res.Source)
}

func TestDetect_EmptyCandidatesSkipsModel(t *testing.T) {
	client := replyWith(`{"ids":[1]}`)
	d := New(NewModelClassifier(client, ""), silentLog())

	res := d.Detect(context.Background(), "I recommend Shoe A", nil)
	assert.Empty(t, res.Products)
	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, 0, client.Calls())

	res = d.Detect(context.Background(), "   ", domain.CandidateSet{shoeA})
	assert.Empty(t, res.Products)
	assert.Equal(t, 0, client.Calls())
}

func TestDetect_DiscardsIDsOutsideCandidates(t *testing.T) {
	d := New(NewModelClassifier(replyWith("```json\n{\"ids\": [7, 2, 2, 1]}\n```"), ""), silentLog())

	res := d.Detect(context.Background(), "Shoe A and Shoe B are both great.", domain.CandidateSet{shoeA, shoeB})
	assert.Equal(t, []int64{1, 2}, res.IDs(), "deduplicated and ordered by first mention")
	assert.Equal(t, []int64{7}, res.Discarded)
}

func TestDetect_ModelFailureFallsBackToLexical(t *testing.T) {
	failing := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("connection refused")
	}}
	malformed := replyWith("Shoe B, definitely")

	for name, client := range map[string]*llm.MockClient{"error": failing, "malformed": malformed} {
		t.Run(name, func(t *testing.T) {
			res := New(NewModelClassifier(client, ""), silentLog()).
				Detect(context.Background(), "Go with Shoe B.", domain.CandidateSet{shoeA, shoeB})
			assert.Equal(t, []int64{2}, res.IDs())
			assert.Equal(t, SourceLexical, res.Source)
		})
	}
}

func TestModelClassifier_Request(t *testing.T) {
	var got llm.CompletionRequest
	client := &llm.MockClient{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		got = req
		return &llm.CompletionResponse{Content: `{"ids":[]}`}, nil
	}}

	ids, err := NewModelClassifier(client, "gpt-4o-mini").Classify(context.Background(), "Nothing fits.", domain.CandidateSet{shoeA})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.True(t, got.JSONOnly)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "id 1: Shoe A ($79.99, athletic shoes)")
	assert.Contains(t, got.Messages[0].Content, "Nothing fits.")
}

func TestLexicalClassifier(t *testing.T) {
	runner := domain.Product{ID: 10, Name: "Runner"}
	trail := domain.Product{ID: 11, Name: "Trail Runner"}

	tests := []struct {
		name string
		text string
		c    domain.CandidateSet
		want []int64
	}{
		{"case insensitive", "try the SHOE B today", domain.CandidateSet{shoeA, shoeB}, []int64{2}},
		{"first mention order", "Shoe C beats Shoe A, and Shoe C again", domain.CandidateSet{shoeA, shoeB, shoeC}, []int64{3, 1}},
		{"whole phrase only", "Shoe About Town", domain.CandidateSet{shoeA}, []int64{}},
		{"longest name wins", "The Trail Runner is light.", domain.CandidateSet{runner, trail}, []int64{11}},
		{"both when both named", "Runner or Trail Runner?", domain.CandidateSet{runner, trail}, []int64{10, 11}},
		{"none", "We have nothing like that.", domain.CandidateSet{shoeA}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := LexicalClassifier{}.Classify(context.Background(), tt.text, tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestDetect_ContainmentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	all := domain.CandidateSet{shoeA, shoeB, shoeC, {ID: 4, Name: "Oxford Classic"}, {ID: 5, Name: "Trail Blazer"}}

	properties.Property("output is a duplicate-free subset of the candidates", prop.ForAll(
		func(n int, returned []int64, text string) bool {
			client := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
				ids := make([]string, len(returned))
				for i, id := range returned {
					ids[i] = strconv.FormatInt(id, 10)
				}
				return &llm.CompletionResponse{Content: `{"ids":[` + strings.Join(ids, ",") + `]}`}, nil
			}}
			c := all[:n]
			res := New(NewModelClassifier(client, ""), silentLog()).Detect(context.Background(), text+" Shoe A", c)

			if n == 0 {
				return len(res.Products) == 0 && client.Calls() == 0
			}
			seen := map[int64]bool{}
			for _, p := range res.Products {
				if !c.Contains(p.ID) || seen[p.ID] {
					return false
				}
				seen[p.ID] = true
			}
			return true
		},
		gen.IntRange(0, len(all)),
		gen.SliceOf(gen.Int64Range(-3, 12)),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
