package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Tools []llm.ToolDefinition
	// PromptedTools describes the tool_call block convention for providers
	// without native function calling.
	PromptedTools bool
	Categories    []string
	ExtraPrompt   string
	Now           time.Time
}

// AddToCartQuestion closes every product list the assistant presents.
const AddToCartQuestion = "Which items would you like to add to your cart? Please let me know the product numbers or names."

// BuildSystemPrompt constructs the shopping assistant's system prompt.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	b.WriteString("You are a shopping assistant for an online shoe store.\n\n")

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))
	if len(cfg.Categories) > 0 {
		fmt.Fprintf(&b, "Store categories: %s\n", strings.Join(cfg.Categories, ", "))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Use the %s tool when customers ask about:\n", ToolNameSearchCatalog)
	b.WriteString("- Product names, brands, or specific shoes\n")
	b.WriteString("- Price (e.g., \"shoes under $100\", \"cheap shoes\")\n")
	b.WriteString("- Rating (e.g., \"highly rated\", \"best rated\", \"4+ stars\")\n")
	b.WriteString("- Category (e.g., \"running shoes\", \"casual\", \"athletic\")\n")
	b.WriteString("- Any combination of the above, or follow-ups such as \"cheaper ones\"\n\n")
	b.WriteString("When customers ask about products you MUST use the tool immediately. Do not ask follow-up questions first.\n")
	b.WriteString("Only mention products returned by the tool. Never invent products, prices or ratings.\n\n")

	b.WriteString("After receiving product results:\n")
	b.WriteString("1. Select the top 4-7 products (prioritize by rating, then price).\n")
	b.WriteString("2. Present them as a numbered list showing name, price, rating and a brief description.\n")
	fmt.Fprintf(&b, "3. Then ALWAYS ask: %q\n\n", AddToCartQuestion)

	b.WriteString("Example format:\n")
	b.WriteString("1. [Product Name] - $[price] ⭐ [rating]/5\n")
	b.WriteString("   [Brief description]\n\n")

	b.WriteString("When the customer asks to add, remove or change items in their cart, confirm the change by product name. ")
	b.WriteString("The cart itself is updated by the store, not by you.\n")
	b.WriteString("If nothing matches, say so and suggest loosening the price, rating or category.\n")
	b.WriteString("Be friendly, concise, and helpful.\n")

	if cfg.PromptedTools && len(cfg.Tools) > 0 {
		b.WriteString("\n## Available Tools\n\n")
		b.WriteString("You can call tools by outputting a fenced code block with the language tag `tool_call`:\n\n")
		b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
		b.WriteString("After a tool is executed, the result will be provided. You may call multiple tools before giving your final response.\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			if t.InputSchema != "" {
				fmt.Fprintf(&b, "Input schema: %s\n", compactJSON(t.InputSchema))
			}
			b.WriteString("\n")
		}
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}

func compactJSON(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
