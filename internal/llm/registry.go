package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether the failure is transient: timeouts, conflicts,
// rate limits and server errors.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Code == 0:
		return true // transport failure, no status received
	case e.Code == 408, e.Code == 409, e.Code == 429:
		return true
	case e.Code >= 500:
		return true
	}
	return false
}

// Registry manages LLM provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Bool("nativeTools", client.NativeTools()).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
// e.g., Alias("gpt-4o", "openai") means "gpt-4o" resolves to the "openai" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}

	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers every provider that has credentials and
// makes cfg.Provider the fallback. Provider "none" yields an empty registry,
// which runs the agent in offline mode.
func NewRegistryFromConfig(cfg config.ModelConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	primary := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if primary == "none" {
		return reg
	}

	for name, entry := range cfg.Providers {
		name = strings.ToLower(name)
		model := entry.Model
		if name == primary && cfg.Model != "" {
			model = cfg.Model
		}

		switch name {
		case ProviderOpenAI:
			if entry.APIKey == "" {
				log.Warn().Str("provider", name).Msg("skipping provider without API key")
				continue
			}
			reg.Register(name, NewOpenAIClient(entry.APIKey, model, entry.BaseURL))
		case ProviderAnthropic:
			if entry.APIKey == "" {
				log.Warn().Str("provider", name).Msg("skipping provider without API key")
				continue
			}
			reg.Register(name, NewAnthropicClient(entry.APIKey, model, entry.BaseURL))
		default:
			log.Warn().Str("provider", name).Msg("unknown LLM provider, ignoring")
			continue
		}
		if model != "" {
			reg.Alias(model, name)
		}
	}

	if primary != "" {
		reg.SetFallback(primary)
	}
	return reg
}
