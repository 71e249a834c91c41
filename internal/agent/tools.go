package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolKind is the closed set of capabilities the reasoning model may call.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolCatalogQuery
	ToolReferenceDetect
)

// Tool names as the model sees them.
const (
	ToolNameSearchCatalog    = "search_catalog"
	ToolNameDetectReferences = "detect_references"
)

func (k ToolKind) String() string {
	switch k {
	case ToolCatalogQuery:
		return ToolNameSearchCatalog
	case ToolReferenceDetect:
		return ToolNameDetectReferences
	default:
		return "unknown"
	}
}

// ParseToolKind maps a tool name from the model onto a ToolKind.
func ParseToolKind(name string) ToolKind {
	switch strings.TrimSpace(name) {
	case ToolNameSearchCatalog:
		return ToolCatalogQuery
	case ToolNameDetectReferences:
		return ToolReferenceDetect
	default:
		return ToolUnknown
	}
}

type toolSpec struct {
	kind        ToolKind
	description string
	schema      string
}

var toolSpecs = []toolSpec{
	{
		kind: ToolCatalogQuery,
		description: "Search the shoe catalog with a natural language query. " +
			"Use when the customer asks about products by name, price, rating, category, or combinations, " +
			"e.g. 'running shoes under $100', 'highly rated casual shoes', 'cheapest sneakers', 'cheaper ones'. " +
			"Returns matching products with id, name, description, price, rating and category.",
		schema: `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "minLength": 1,
      "maxLength": 500,
      "description": "Natural language product search query, e.g. 'running shoes under $100'"
    }
  },
  "required": ["query"],
  "additionalProperties": false
}`,
	},
	{
		kind: ToolReferenceDetect,
		description: "Check which of the products found so far in this conversation turn a draft reply names or recommends. " +
			"Returns the matching product ids.",
		schema: `{
  "type": "object",
  "properties": {
    "text": {
      "type": "string",
      "minLength": 1,
      "description": "The draft reply to check"
    }
  },
  "required": ["text"],
  "additionalProperties": false
}`,
	},
}

// catalogQueryInput is the decoded input of search_catalog.
type catalogQueryInput struct {
	Query string `json:"query"`
}

// referenceDetectInput is the decoded input of detect_references.
type referenceDetectInput struct {
	Text string `json:"text"`
}

// ToolSet holds the compiled input schemas of the closed tool set.
type ToolSet struct {
	schemas map[ToolKind]*jsonschema.Schema
	defs    []llm.ToolDefinition
}

// NewToolSet compiles every tool's input schema.
func NewToolSet() (*ToolSet, error) {
	ts := &ToolSet{schemas: make(map[ToolKind]*jsonschema.Schema, len(toolSpecs))}
	for _, spec := range toolSpecs {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://chat2purchase.local/tools/%s.schema.json", spec.kind)
		if err := c.AddResource(url, strings.NewReader(spec.schema)); err != nil {
			return nil, fmt.Errorf("loading %s schema: %w", spec.kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling %s schema: %w", spec.kind, err)
		}
		ts.schemas[spec.kind] = compiled
		ts.defs = append(ts.defs, llm.ToolDefinition{
			Name:        spec.kind.String(),
			Description: spec.description,
			InputSchema: spec.schema,
		})
	}
	return ts, nil
}

// Definitions returns LLM-ready definitions for every tool.
func (ts *ToolSet) Definitions() []llm.ToolDefinition {
	return ts.defs
}

// Validate checks raw JSON input against the tool's schema.
func (ts *ToolSet) Validate(kind ToolKind, input string) error {
	sch, ok := ts.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown tool %q", kind)
	}
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("input does not match schema: %w", err)
	}
	return nil
}
