package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/cenkalti/backoff/v5"
)

// ModelCaller wraps an LLM registry with retries and provider failover.
// Each model is retried with exponential backoff on transient errors before
// the next fallback is tried.
type ModelCaller struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	retries   int
	baseDelay time.Duration
	log       *logging.Logger
}

// NewModelCaller creates a caller that tries primary first, then each
// fallback. retries is the number of extra attempts per model.
func NewModelCaller(registry *llm.Registry, primary string, fallbacks []string, retries int, baseDelay time.Duration, log *logging.Logger) *ModelCaller {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &ModelCaller{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		retries:   max(retries, 0),
		baseDelay: baseDelay,
		log:       log.Sub("model"),
	}
}

// NativeTools reports whether the primary provider returns structured tool
// calls.
func (m *ModelCaller) NativeTools() bool {
	c, err := m.registry.Resolve(m.primary)
	return err == nil && c.NativeTools()
}

// Complete sends req to the first model that answers. All failures are
// reported as UpstreamModelError.
func (m *ModelCaller) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	models := append([]string{m.primary}, m.fallbacks...)

	var lastErr error
	for _, model := range models {
		client, err := m.registry.Resolve(model)
		if err != nil {
			m.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		resp, err := m.completeWithRetry(ctx, client, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if isRetryable(err) {
			m.log.Warn().
				Str("model", model).
				Err(err).
				Msg("model unavailable, trying next provider")
			continue
		}
		// Non-retryable: the request itself is at fault.
		break
	}

	if lastErr == nil {
		lastErr = errors.New("no model configured")
	}
	return nil, domain.NewError(domain.ErrUpstreamModel, "model.complete", lastErr)
}

func (m *ModelCaller) completeWithRetry(ctx context.Context, client llm.Client, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.baseDelay
	b.MaxInterval = 8 * m.baseDelay

	attempt := 0
	op := func() (*llm.CompletionResponse, error) {
		attempt++
		start := time.Now()
		resp, err := client.Complete(ctx, req)
		if err != nil {
			if !isRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp == nil {
			return nil, backoff.Permanent(fmt.Errorf("%s returned no response", client.Name()))
		}
		if resp.Duration == 0 {
			resp.Duration = time.Since(start)
		}
		return resp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warn().
				Str("provider", client.Name()).
				Str("model", req.Model).
				Int("attempt", attempt).
				Dur("retryIn", next).
				Err(err).
				Msg("model call failed, retrying")
		}),
	)
}

// isRetryable checks if the error is transient and worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection")
}
