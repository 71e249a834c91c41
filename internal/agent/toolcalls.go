package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// fencedCall is a tool invocation written as a ```tool_call block by a
// provider without native function calling.
type fencedCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// observation is the outcome of one tool call, fed back to the model.
type observation struct {
	Call   llm.ToolCall
	Kind   ToolKind
	Output string
	Err    error
}

// toolCallRe matches ```tool_call\n{...}\n``` blocks in LLM output.
var toolCallRe = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\n\\s*```")

// xmlFuncCallRe matches <function_calls>...</function_calls> XML blocks that
// some models emit instead of the fenced convention.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// xmlBlockLevelRe matches self-contained XML tool-use blocks.
var xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
	`<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>` +
	`)`)

// whitespaceLineRe matches lines containing only horizontal whitespace.
var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// requestedCalls returns the tool calls in a model response: native calls
// when present, otherwise fenced tool_call blocks parsed from the text.
func requestedCalls(resp *llm.CompletionResponse) []llm.ToolCall {
	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls
	}
	return parseToolCalls(resp.Content)
}

// parseToolCalls extracts tool_call blocks from LLM response text.
func parseToolCalls(text string) []llm.ToolCall {
	matches := toolCallRe.FindAllStringSubmatch(text, -1)
	var calls []llm.ToolCall
	for i, match := range matches {
		if len(match) < 2 {
			continue
		}
		var fc fencedCall
		if err := json.Unmarshal([]byte(match[1]), &fc); err != nil {
			continue
		}
		if fc.Tool == "" {
			continue
		}
		input := string(fc.Input)
		if input == "" || input == "null" {
			input = "{}"
		}
		calls = append(calls, llm.ToolCall{
			ID:    fmt.Sprintf("call_%d", i+1),
			Name:  fc.Tool,
			Input: input,
		})
	}
	return calls
}

// formatToolResults renders observations as one user message for prompted
// providers.
func formatToolResults(results []observation) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "### %s\n", r.Call.Name)
		b.WriteString(r.Output)
		b.WriteString("\n\n")
	}
	return b.String()
}

// stripToolCalls removes tool_call code blocks and XML tool-use blocks from
// the response, leaving surrounding text. Stripped XML blocks are logged at
// debug level.
func stripToolCalls(text string, log *logging.Logger) string {
	cleaned := toolCallRe.ReplaceAllString(text, "\n\n")

	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(cleaned, -1) {
			log.Debug().Str("xml", m).Msg("stripped XML function_calls from model reply")
		}
	}
	cleaned = xmlFuncCallRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")

	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}
