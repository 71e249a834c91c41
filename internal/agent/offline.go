package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/cart"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
)

// ProviderOffline is the registry name of OfflineClient.
const ProviderOffline = "offline"

const offlineListSize = 7

// OfflineClient is a deterministic llm.Client used when no model provider
// is configured. It always searches the catalog with the shopper's message
// and presents the results in the assistant's usual list format, so the
// whole turn pipeline runs without network access.
type OfflineClient struct{}

// NewOfflineClient returns an OfflineClient.
func NewOfflineClient() *OfflineClient { return &OfflineClient{} }

func (*OfflineClient) Name() string { return ProviderOffline }

func (*OfflineClient) NativeTools() bool { return true }

func (*OfflineClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return &llm.CompletionResponse{Content: "How can I help you find shoes today?", Model: ProviderOffline}, nil
	}
	last := req.Messages[len(req.Messages)-1]

	if last.Role == llm.RoleTool {
		return &llm.CompletionResponse{Content: presentResults(last.Content), Model: ProviderOffline, StopReason: "end_turn"}, nil
	}

	if cart.LooksLikeCommand(last.Content) {
		return &llm.CompletionResponse{
			Content:    "Got it! I've passed that along to your cart. Anything else I can help you find?",
			Model:      ProviderOffline,
			StopReason: "end_turn",
		}, nil
	}

	input, _ := json.Marshal(catalogQueryInput{Query: last.Content})
	return &llm.CompletionResponse{
		Model:      ProviderOffline,
		StopReason: "tool_use",
		ToolCalls: []llm.ToolCall{{
			ID:    "offline_1",
			Name:  ToolNameSearchCatalog,
			Input: string(input),
		}},
	}, nil
}

// presentResults renders a search_catalog observation as the numbered
// product list the system prompt asks for.
func presentResults(output string) string {
	var products []productView
	if rest, ok := strings.CutPrefix(output, "Found "); ok {
		if i := strings.Index(rest, ": "); i >= 0 {
			body := rest[i+2:]
			if j := strings.Index(body, "\n"); j >= 0 {
				body = body[:j]
			}
			_ = json.Unmarshal([]byte(body), &products)
		}
	}
	if len(products) == 0 {
		return noResultsText + " Try loosening the price, rating or category."
	}

	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Rating != products[j].Rating {
			return products[i].Rating > products[j].Rating
		}
		return products[i].Price < products[j].Price
	})
	if len(products) > offlineListSize {
		products = products[:offlineListSize]
	}

	var b strings.Builder
	b.WriteString("Here's what I found:\n\n")
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s - $%.2f ⭐ %.1f/5\n", i+1, p.Name, p.Price, p.Rating)
		if p.Description != "" {
			fmt.Fprintf(&b, "   %s\n", p.Description)
		}
	}
	b.WriteString("\n")
	b.WriteString(AddToCartQuestion)
	return b.String()
}
