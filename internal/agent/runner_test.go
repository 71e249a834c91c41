package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/catalog"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/hooks"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/store"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

var fixture = []domain.Product{
	{Name: "Shoe A", Description: "Lightweight daily trainer", Price: 79.99, Rating: 4.5, Category: "running"},
	{Name: "Shoe B", Description: "Cushioned long distance trainer", Price: 95, Rating: 4.2, Category: "running"},
	{Name: "Shoe C", Description: "Carbon-plated racer", Price: 120, Rating: 4.8, Category: "running"},
}

func testTranslator(t *testing.T) *catalog.Translator {
	t.Helper()
	db, err := store.Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := catalog.NewSQLStore(db.SQL(), catalog.DialectSQLite, silentLog())
	_, err = s.Seed(context.Background(), fixture, false)
	require.NoError(t, err)
	return catalog.NewTranslator(s, nil, catalog.TranslatorOptions{}, silentLog())
}

func testRegistry(mock llm.Client) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", mock)
	reg.SetFallback("mock")
	return reg
}

type testHarness struct {
	orch     *Orchestrator
	sessions *MemorySessionStore
	hooks    *hooks.Manager
	spans    *tracetest.SpanRecorder
}

func newHarness(t *testing.T, client llm.Client, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{
		sessions: NewMemorySessionStore(20, 100),
		hooks:    hooks.NewManager(silentLog()),
		spans:    tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	orch, err := New(Deps{
		Model:      NewModelCaller(testRegistry(client), "mock", nil, 2, time.Millisecond, silentLog()),
		Translator: testTranslator(t),
		Sessions:   h.sessions,
		Hooks:      h.hooks,
		Tracer:     tp.Tracer("test"),
		Log:        silentLog(),
	}, opts)
	require.NoError(t, err)
	h.orch = orch
	return h
}

// scripted returns a mock that answers with steps in order, repeating the
// last one once they run out.
func scripted(native bool, steps ...*llm.CompletionResponse) *llm.MockClient {
	var n atomic.Int64
	return &llm.MockClient{
		ProviderName: "mock",
		Native:       native,
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			i := min(int(n.Add(1))-1, len(steps)-1)
			resp := *steps[i]
			return &resp, nil
		},
	}
}

func toolCall(name string, input any) *llm.CompletionResponse {
	raw, _ := json.Marshal(input)
	return &llm.CompletionResponse{
		Model:     "mock-model",
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Input: string(raw)}},
	}
}

func searchCall(query string) *llm.CompletionResponse {
	return toolCall(ToolNameSearchCatalog, map[string]string{"query": query})
}

func answer(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: text, Model: "mock-model", Usage: llm.Usage{InputTokens: 20, OutputTokens: 10}}
}

func names(products []domain.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func spanNames(sr *tracetest.SpanRecorder) map[string]int {
	counts := make(map[string]int)
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	return counts
}

func TestSendChatTurn_ScenarioA(t *testing.T) {
	mock := scripted(true,
		searchCall("running shoes under $100"),
		answer("I found a couple of running shoes within your budget. Would you like details on either?"),
	)
	h := newHarness(t, mock, Options{})
	ctx := context.Background()

	res, err := h.orch.SendChatTurn(ctx, "s1", "running shoes under $100")
	require.NoError(t, err)

	assert.Equal(t, []string{"Shoe A", "Shoe B"}, names(res.Products))
	assert.Empty(t, res.CartActions)
	assert.NotNil(t, res.CartActions)
	assert.False(t, res.Aborted)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, mock.Calls())

	sess, err := h.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, domain.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, sess.Turns[1].Role)
	assert.Equal(t, res.Message, sess.Turns[1].Content)
	assert.Equal(t, []string{"Shoe A", "Shoe B"}, names(sess.LastCandidates))
	require.NotNil(t, sess.LastFilter)
	assert.Equal(t, 100.0, *sess.LastFilter.PriceMax)
}

func TestSendChatTurn_ScenarioB(t *testing.T) {
	mock := scripted(true, searchCall("running shoes under $100"), answer("I recommend Shoe A ($79.99)"))
	h := newHarness(t, mock, Options{})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "running shoes under $100")
	require.NoError(t, err)

	require.Len(t, res.CartActions, 1)
	a := res.CartActions[0]
	assert.Equal(t, domain.CartAdd, a.Kind)
	assert.Equal(t, int64(1), a.ProductID)
	assert.Equal(t, 1, a.Quantity)
	require.NotNil(t, a.Product)
	assert.Equal(t, "Shoe A", a.Product.Name)
	assert.Equal(t, 79.99, a.Product.Price)
}

func TestSendChatTurn_ScenarioC(t *testing.T) {
	mock := scripted(true, searchCall("running shoes"))
	h := newHarness(t, mock, Options{})
	var aborted atomic.Int64
	h.hooks.On(hooks.EventTurnAborted, "test", func(_ context.Context, p hooks.Payload) error {
		aborted.Add(1)
		assert.Equal(t, string(domain.AbortIterationLimit), p.Data["reason"])
		return nil
	})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "find me something")
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, domain.AbortIterationLimit, res.AbortReason)
	assert.Equal(t, FallbackReply, res.Message)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Equal(t, DefaultMaxIterations, mock.Calls())
	assert.NotNil(t, res.CartActions)
	assert.Empty(t, res.CartActions)

	sess, _ := h.sessions.Get(context.Background(), "s1")
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, FallbackReply, sess.Turns[1].Content)
	assert.Equal(t, int64(1), aborted.Load())
}

func TestSendChatTurn_AbortKeepsDetections(t *testing.T) {
	var n atomic.Int64
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if n.Add(1) == 1 {
			return searchCall("running shoes under $100"), nil
		}
		return toolCall(ToolNameDetectReferences, map[string]string{"text": "Shoe B looks great"}), nil
	}}
	h := newHarness(t, mock, Options{MaxIterations: 3})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "running shoes under $100")
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, 3, res.Iterations)
	require.Len(t, res.CartActions, 1)
	assert.Equal(t, int64(2), res.CartActions[0].ProductID)
}

func TestSendChatTurn_EventsAndSpans(t *testing.T) {
	mock := scripted(true, searchCall("running shoes under $100"), answer("Here you go."))
	h := newHarness(t, mock, Options{})

	var mu sync.Mutex
	var steps, tools []map[string]any
	h.hooks.On(hooks.EventReasoningStep, "test", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, p.Data)
		return nil
	})
	h.hooks.On(hooks.EventToolExecuted, "test", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		tools = append(tools, p.Data)
		return nil
	})

	_, err := h.orch.SendChatTurn(context.Background(), "s1", "running shoes under $100")
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0]["iteration"])
	assert.Equal(t, []string{ToolNameSearchCatalog}, steps[0]["toolCalls"])
	assert.Equal(t, true, steps[1]["success"])
	assert.Equal(t, 20, steps[1]["inputTokens"])

	require.Len(t, tools, 1)
	assert.Equal(t, ToolNameSearchCatalog, tools[0]["tool"])
	assert.Equal(t, true, tools[0]["success"])
	assert.Contains(t, tools[0]["output"], "Found 2 product(s)")
	assert.Contains(t, tools[0], "duration")

	counts := spanNames(h.spans)
	assert.Equal(t, 1, counts["agent.turn"])
	assert.Equal(t, 2, counts["agent.reasoning"])
	assert.Equal(t, 1, counts["agent.tool"])
}

func TestSendChatTurn_ToolErrorsAreObservations(t *testing.T) {
	var requests []llm.CompletionRequest
	var mu sync.Mutex
	steps := []*llm.CompletionResponse{
		toolCall("delete_catalog", map[string]string{"query": "x"}),
		toolCall(ToolNameSearchCatalog, map[string]any{"query": 42}),
		toolCall(ToolNameDetectReferences, map[string]string{"text": "Shoe A"}),
		answer("Sorry, could you tell me more about what you need?"),
	}
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, req)
		return steps[len(requests)-1], nil
	}}
	h := newHarness(t, mock, Options{})
	var failed atomic.Int64
	h.hooks.On(hooks.EventToolExecuted, "test", func(_ context.Context, p hooks.Payload) error {
		if p.Data["success"] == false {
			failed.Add(1)
		}
		return nil
	})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "hello there")
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, 4, res.Iterations)
	assert.Empty(t, res.CartActions)

	require.Len(t, requests, 4)
	toolMsg := func(req llm.CompletionRequest) llm.Message { return req.Messages[len(req.Messages)-1] }

	unknown := toolMsg(requests[1])
	assert.Equal(t, llm.RoleTool, unknown.Role)
	assert.Equal(t, "call_1", unknown.ToolCallID)
	assert.Contains(t, unknown.Content, `Unknown tool "delete_catalog"`)

	invalid := toolMsg(requests[2])
	assert.Contains(t, invalid.Content, "Invalid input for search_catalog")

	noCandidates := toolMsg(requests[3])
	assert.Contains(t, noCandidates.Content, "No products have been found")
	assert.Equal(t, int64(2), failed.Load(), "unknown tool and invalid input fail, the empty detection does not")
}

func TestSendChatTurn_PromptedToolCalls(t *testing.T) {
	var mu sync.Mutex
	var requests []llm.CompletionRequest
	steps := []*llm.CompletionResponse{
		{Content: "Let me look.\n\n```tool_call\n{\"tool\": \"search_catalog\", \"input\": {\"query\": \"running shoes under $100\"}}\n```"},
		{Content: "Shoe B is a great pick."},
	}
	mock := &llm.MockClient{ProviderName: "mock", CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, req)
		return steps[len(requests)-1], nil
	}}
	h := newHarness(t, mock, Options{})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "running shoes under $100")
	require.NoError(t, err)
	assert.Equal(t, "Shoe B is a great pick.", res.Message)
	require.Len(t, res.CartActions, 1)
	assert.Equal(t, int64(2), res.CartActions[0].ProductID)

	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].Tools)
	assert.Contains(t, requests[0].System, "```tool_call")

	msgs := requests[1].Messages
	assert.Equal(t, llm.RoleAssistant, msgs[len(msgs)-2].Role)
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Tool execution results:"))
	assert.Contains(t, last.Content, "### search_catalog")
}

func TestSendChatTurn_NativeRequestCarriesTools(t *testing.T) {
	var got llm.CompletionRequest
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		got = req
		return answer("Hi! What are you shopping for?"), nil
	}}
	h := newHarness(t, mock, Options{MaxTokens: 512})

	_, err := h.orch.SendChatTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.Len(t, got.Tools, 2)
	assert.Equal(t, ToolNameSearchCatalog, got.Tools[0].Name)
	assert.Equal(t, 512, got.MaxTokens)
	assert.NotContains(t, got.System, "```tool_call")
	assert.Contains(t, got.System, "Store categories: running")
}

func TestSendChatTurn_FollowUpUsesPreviousList(t *testing.T) {
	var n atomic.Int64
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch n.Add(1) {
		case 1:
			return searchCall("running shoes under $100"), nil
		case 2:
			return answer("Here are two options for you."), nil
		}
		// History is replayed to the model on the next turn.
		if len(req.Messages) != 3 {
			return nil, fmt.Errorf("expected 3 messages, got %d", len(req.Messages))
		}
		return answer("Done! Shoe B is on its way to your cart."), nil
	}}
	h := newHarness(t, mock, Options{})
	ctx := context.Background()

	_, err := h.orch.SendChatTurn(ctx, "s1", "running shoes under $100")
	require.NoError(t, err)

	res, err := h.orch.SendChatTurn(ctx, "s1", "add the second one")
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Empty(t, res.Products)
	require.Len(t, res.CartActions, 1)
	assert.Equal(t, domain.CartAdd, res.CartActions[0].Kind)
	assert.Equal(t, int64(2), res.CartActions[0].ProductID)

	sess, _ := h.sessions.Get(ctx, "s1")
	assert.Len(t, sess.Turns, 4)
	assert.Equal(t, []string{"Shoe A", "Shoe B"}, names(sess.LastCandidates), "an empty turn keeps the previous list")
}

func TestSendChatTurn_Validation(t *testing.T) {
	mock := scripted(true, answer("unused"))
	h := newHarness(t, mock, Options{})
	ctx := context.Background()

	tests := []struct {
		name      string
		sessionID string
		message   string
	}{
		{"empty message", "s1", "   "},
		{"missing session", "", "hello"},
		{"long session id", strings.Repeat("x", 200), "hello"},
		{"long message", "s1", strings.Repeat("a", maxMessageLen+1)},
		{"invalid utf8", "s1", "bad \xff bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.SendChatTurn(ctx, tt.sessionID, tt.message)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 0, mock.Calls())
	assert.Equal(t, 0, h.sessions.Len())
}

func TestSendChatTurn_RetriesTransientModelErrors(t *testing.T) {
	var n atomic.Int64
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if n.Add(1) <= 2 {
			return nil, &llm.ProviderError{Provider: "mock", Code: 503, Message: "overloaded"}
		}
		return answer("Back online. How can I help?"), nil
	}}
	h := newHarness(t, mock, Options{})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, "Back online. How can I help?", res.Message)
	assert.Equal(t, 3, mock.Calls())
}

func TestSendChatTurn_UpstreamOutage(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "mock", Code: 503, Message: "overloaded"}
	}}
	h := newHarness(t, mock, Options{})

	// A cart command in the message is not acted on when the model is down.
	res, err := h.orch.SendChatTurn(context.Background(), "s1", "please empty my cart")
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, domain.AbortUpstreamModel, res.AbortReason)
	assert.Equal(t, UnavailableReply, res.Message)
	assert.NotNil(t, res.CartActions)
	assert.Empty(t, res.CartActions)
	assert.Equal(t, 3, mock.Calls(), "one call plus two retries")

	sess, _ := h.sessions.Get(context.Background(), "s1")
	assert.Len(t, sess.Turns, 2)
}

func TestSendChatTurn_NonRetryableModelError(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "mock", Code: 400, Message: "bad request"}
	}}
	h := newHarness(t, mock, Options{})

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.AbortUpstreamModel, res.AbortReason)
	assert.Equal(t, 1, mock.Calls())
}

func TestSendChatTurn_Timeout(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, mock, Options{TurnTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := h.orch.SendChatTurn(context.Background(), "s1", "please empty my cart")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Aborted)
	assert.Equal(t, domain.AbortTimeout, res.AbortReason)
	assert.Equal(t, FallbackReply, res.Message)
	assert.NotNil(t, res.CartActions)
	assert.Empty(t, res.CartActions)

	sess, _ := h.sessions.Get(context.Background(), "s1")
	assert.Len(t, sess.Turns, 2)
}

func TestSendChatTurn_LockWaitTimesOut(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		once.Do(func() { close(entered) })
		<-release
		return answer("ok"), nil
	}}
	h := newHarness(t, mock, Options{TurnTimeout: 100 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.orch.SendChatTurn(context.Background(), "s1", "first")
		assert.NoError(t, err)
	}()
	<-entered

	res, err := h.orch.SendChatTurn(context.Background(), "s1", "please empty my cart")
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, domain.AbortTimeout, res.AbortReason)
	assert.Equal(t, FallbackReply, res.Message)
	assert.Equal(t, "s1", res.SessionID)
	assert.Empty(t, res.CartActions)

	close(release)
	wg.Wait()

	sess, _ := h.sessions.Get(context.Background(), "s1")
	require.NotNil(t, sess)
	for _, turn := range sess.Turns {
		assert.NotEqual(t, "please empty my cart", turn.Content)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "é" is two bytes; cutting inside it backs off to the rune start.
	got := truncate("café au lait", 4)
	assert.Equal(t, "caf...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("日本語", 4)
	assert.Equal(t, "日...", got)
	assert.True(t, utf8.ValidString(got))
}

func TestSendChatTurn_CallerCancellationDoesNotAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(req.Messages) == 1 {
			return searchCall("running shoes under $100"), nil
		}
		return answer("Found some."), nil
	}}
	h := newHarness(t, mock, Options{})

	res, err := h.orch.SendChatTurn(ctx, "s1", "running shoes under $100")
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Len(t, res.Products, 2)

	sess, _ := h.sessions.Get(context.Background(), "s1")
	assert.Len(t, sess.Turns, 2)
}

func TestSendChatTurn_SerializesPerSession(t *testing.T) {
	var inFlight, peak atomic.Int64
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return answer("ok"), nil
	}}
	h := newHarness(t, mock, Options{})

	const turns = 5
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.SendChatTurn(context.Background(), "same", fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), peak.Load())
	sess, _ := h.sessions.Get(context.Background(), "same")
	require.Len(t, sess.Turns, 2*turns)
	for i := 0; i < len(sess.Turns); i += 2 {
		assert.Equal(t, domain.RoleUser, sess.Turns[i].Role)
		assert.Equal(t, domain.RoleAssistant, sess.Turns[i+1].Role)
	}
	assert.Equal(t, 0, h.orch.locks.size())
}

func TestSendChatTurn_SessionsRunConcurrently(t *testing.T) {
	var inFlight atomic.Int64
	var overlapped atomic.Bool
	release := make(chan struct{})
	mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		defer inFlight.Add(-1)
		if inFlight.Add(1) == 2 {
			overlapped.Store(true)
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return answer("ok"), nil
	}}
	h := newHarness(t, mock, Options{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.SendChatTurn(context.Background(), id, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.True(t, overlapped.Load())
}

func TestSendChatTurn_TerminationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	translator := testTranslator(t)

	properties.Property("every turn ends within the iteration bound", prop.ForAll(
		func(toolRounds, bound int) bool {
			var n atomic.Int64
			mock := &llm.MockClient{ProviderName: "mock", Native: true, CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
				if int(n.Add(1)) <= toolRounds {
					return searchCall("running shoes"), nil
				}
				return answer("done"), nil
			}}
			orch, err := New(Deps{
				Model:      NewModelCaller(testRegistry(mock), "mock", nil, 0, time.Millisecond, silentLog()),
				Translator: translator,
				Sessions:   NewMemorySessionStore(0, 0),
				Log:        silentLog(),
			}, Options{MaxIterations: bound})
			if err != nil {
				return false
			}
			res, err := orch.SendChatTurn(context.Background(), "p", "running shoes")
			if err != nil || res.Message == "" || res.CartActions == nil {
				return false
			}
			if toolRounds < bound {
				return !res.Aborted && res.Iterations == toolRounds+1 && mock.Calls() == toolRounds+1
			}
			return res.Aborted && res.AbortReason == domain.AbortIterationLimit &&
				res.Iterations == bound && mock.Calls() == bound
		},
		gen.IntRange(0, 12), gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Log: silentLog()}, Options{})
	assert.Error(t, err)
}

// --- ModelCaller tests ---

func TestModelCallerSuccess(t *testing.T) {
	mock := scripted(false, answer("ok"))
	mc := NewModelCaller(testRegistry(mock), "mock", nil, 2, time.Millisecond, silentLog())

	resp, err := mc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.False(t, mc.NativeTools())
}

func TestModelCallerTriesFallback(t *testing.T) {
	var mu sync.Mutex
	callOrder := []string{}

	primary := &llm.MockClient{
		ProviderName: "primary",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			callOrder = append(callOrder, "primary")
			return nil, &llm.ProviderError{Provider: "primary", Message: "overloaded", Code: 529}
		},
	}
	fallback := &llm.MockClient{
		ProviderName: "fallback",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			callOrder = append(callOrder, "fallback")
			return &llm.CompletionResponse{Content: "fallback response"}, nil
		},
	}

	reg := llm.NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	mc := NewModelCaller(reg, "primary", []string{"fallback"}, 1, time.Millisecond, silentLog())
	resp, err := mc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Content)
	assert.Equal(t, []string{"primary", "primary", "fallback"}, callOrder)
}

func TestModelCallerNonRetryableStops(t *testing.T) {
	var calls atomic.Int64
	primary := &llm.MockClient{ProviderName: "primary", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls.Add(1)
		return nil, errors.New("invalid request body")
	}}
	fallback := &llm.MockClient{ProviderName: "fallback", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls.Add(1)
		return &llm.CompletionResponse{Content: "should not reach"}, nil
	}}

	reg := llm.NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	mc := NewModelCaller(reg, "primary", []string{"fallback"}, 3, time.Millisecond, silentLog())
	_, err := mc.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamModel)
	assert.Equal(t, int64(1), calls.Load(), "no retry and no fallback on a non-retryable error")
}

func TestModelCallerNoProvider(t *testing.T) {
	mc := NewModelCaller(llm.NewRegistry(silentLog()), "gpt-4o", nil, 1, time.Millisecond, silentLog())
	_, err := mc.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorIs(t, err, domain.ErrUpstreamModel)
	assert.False(t, mc.NativeTools())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&llm.ProviderError{Code: 429}))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 529}))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 503}))
	assert.True(t, isRetryable(&llm.ProviderError{Message: "dial tcp: refused"}))
	assert.False(t, isRetryable(&llm.ProviderError{Code: 401}))
	assert.True(t, isRetryable(fmt.Errorf("server overloaded")))
	assert.True(t, isRetryable(fmt.Errorf("rate limit exceeded")))
	assert.False(t, isRetryable(fmt.Errorf("invalid input")))
	assert.False(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(nil))
}
