package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
)

const classifyPrompt = `You check which products a shopping assistant's reply names or clearly recommends.
Only products from the numbered list below may be returned.
A product that is merely compared against, ruled out, or said to be unavailable is not referenced.
Reply with a single JSON object: {"ids": [<product id>, ...]} in the order the reply mentions them.
Reply {"ids": []} when the reply references none of them.`

// ModelClassifier asks the language model which candidates a reply
// references.
type ModelClassifier struct {
	client llm.Client
	model  string
}

// NewModelClassifier creates a model-backed Classifier. model may be empty
// to use the client's default.
func NewModelClassifier(client llm.Client, model string) *ModelClassifier {
	return &ModelClassifier{client: client, model: model}
}

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, text string, candidates domain.CandidateSet) ([]int64, error) {
	var user strings.Builder
	user.WriteString("Products:\n")
	for _, p := range candidates {
		fmt.Fprintf(&user, "id %d: %s ($%.2f, %s)\n", p.ID, p.Name, p.Price, p.Category)
	}
	user.WriteString("\nReply:\n")
	user.WriteString(text)

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Model:    c.model,
		System:   classifyPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user.String()}},
		JSONOnly: true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("decoding classifier reply: %w", err)
	}
	return out.IDs, nil
}
