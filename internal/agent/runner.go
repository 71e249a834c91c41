package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/cart"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/catalog"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/detector"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/hooks"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults for Options.
const (
	DefaultMaxIterations = 5
	DefaultTurnTimeout   = 30 * time.Second

	maxMessageLen   = 4000
	maxSessionIDLen = 128
)

// Replies used when a turn cannot complete normally.
const (
	FallbackReply    = "I'm having trouble with that request, could you rephrase?"
	UnavailableReply = "Sorry, I'm having trouble reaching our shopping assistant right now. Please try again in a moment."
)

// Tool observation texts.
const (
	noResultsText   = "I couldn't find any products matching your search in our catalog."
	searchErrorText = "I encountered an error while searching. Please try again."
)

const tracerName = "github.com/Arize-ai/chat-to-purchase-router-agent/internal/agent"

// Model is the reasoning model as the orchestrator sees it. ModelCaller
// implements it over the provider registry.
type Model interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	NativeTools() bool
}

// Options tunes the orchestration loop.
type Options struct {
	MaxIterations int
	TurnTimeout   time.Duration
	MaxTokens     int
	Temperature   *float64
	ExtraPrompt   string
}

// Deps are the collaborators of an Orchestrator. Hooks and Tracer are
// optional.
type Deps struct {
	Model      Model
	Translator *catalog.Translator
	Detector   *detector.Detector
	Sessions   SessionStore
	Hooks      *hooks.Manager
	Tracer     trace.Tracer
	Log        *logging.Logger
}

// Orchestrator runs chat turns: it reasons with the model, dispatches the
// closed tool set, and turns the outcome into a reply plus cart actions.
//
// Turns for the same session are serialized; different sessions run
// concurrently.
type Orchestrator struct {
	opts       Options
	model      Model
	tools      *ToolSet
	translator *catalog.Translator
	detector   *detector.Detector
	sessions   SessionStore
	locks      *keyedMutex
	hooks      *hooks.Manager
	tracer     trace.Tracer
	log        *logging.Logger
	now        func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Model == nil || deps.Translator == nil || deps.Sessions == nil {
		return nil, errors.New("orchestrator needs a model, a translator and a session store")
	}
	tools, err := NewToolSet()
	if err != nil {
		return nil, err
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if deps.Detector == nil {
		deps.Detector = detector.New(nil, deps.Log)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		opts:       opts,
		model:      deps.Model,
		tools:      tools,
		translator: deps.Translator,
		detector:   deps.Detector,
		sessions:   deps.Sessions,
		locks:      newKeyedMutex(),
		hooks:      deps.Hooks,
		tracer:     deps.Tracer,
		log:        deps.Log.Sub("agent"),
		now:        time.Now,
	}, nil
}

// Sessions returns the session store the orchestrator writes to.
func (o *Orchestrator) Sessions() SessionStore { return o.sessions }

// turnState is the working context of one turn.
type turnState struct {
	sessionID string
	iteration int

	// Context from the previous turn, for follow-ups.
	prior           *domain.FilterSpec
	priorCandidates domain.CandidateSet

	candidates domain.CandidateSet
	lastSpec   *domain.FilterSpec
	detected   []domain.Product
}

// SendChatTurn runs one chat turn for sessionID. The turn is detached from
// ctx's cancellation: once accepted it runs to completion, bounded by the
// turn timeout, so a caller that disconnects leaves the session consistent.
//
// Only validation and session store failures are returned as errors. Model
// outages, timeouts and the iteration bound produce a fallback reply with
// Aborted set. Only the iteration bound keeps cart actions from partial work.
func (o *Orchestrator) SendChatTurn(ctx context.Context, sessionID, message string) (domain.AgentTurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if err := validateTurn(sessionID, message); err != nil {
		return domain.AgentTurnResult{}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.TurnTimeout)
	defer cancel()

	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		// The session stays untouched: another turn still holds it.
		o.log.Warn().Str("sessionId", sessionID).Err(err).Msg("timed out waiting for session")
		return domain.AgentTurnResult{
			SessionID:   sessionID,
			Message:     FallbackReply,
			CartActions: []domain.CartAction{},
			Aborted:     true,
			AbortReason: domain.AbortTimeout,
		}, nil
	}
	defer unlock()

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("message.length", len(message)),
	))
	defer span.End()
	log := o.log.With("sessionId", sessionID)

	sess, created, err := o.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session load failed")
		return domain.AgentTurnResult{}, fmt.Errorf("loading session: %w", err)
	}
	if created {
		o.hooks.Emit(ctx, hooks.EventSessionCreated, map[string]any{"sessionId": sessionID})
	}

	userTurn := domain.Turn{Role: domain.RoleUser, Content: message, Timestamp: start}
	if err := o.sessions.Append(ctx, sessionID, domain.TurnUpdate{Turns: []domain.Turn{userTurn}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session append failed")
		return domain.AgentTurnResult{}, fmt.Errorf("recording user turn: %w", err)
	}

	log.Info().
		Int("historyLen", len(sess.Turns)).
		Bool("newSession", created).
		Msg("processing chat turn")
	o.hooks.Emit(ctx, hooks.EventTurnStarted, map[string]any{
		"sessionId": sessionID,
		"message":   message,
	})

	st := &turnState{
		sessionID:       sessionID,
		prior:           sess.LastFilter,
		priorCandidates: sess.LastCandidates,
	}
	reply, reason := o.loop(ctx, st, sess, message, log)

	// Finalizing.
	var detected []domain.Product
	if reason == "" {
		d := o.detector.Detect(ctx, reply, st.candidates)
		detected = d.Products
		if len(d.Discarded) > 0 {
			span.AddEvent("detector.mismatch", trace.WithAttributes(attribute.Int("discarded", len(d.Discarded))))
		}
	} else {
		detected = st.detected
	}

	reference := st.candidates
	if len(st.priorCandidates) > 0 {
		reference = st.priorCandidates.Merge(st.candidates)
	}
	actions := []domain.CartAction{}
	switch reason {
	case "", domain.AbortIterationLimit:
		actions = cart.Synthesize(detected, cart.ParseIntents(message, reference))
	}

	update := domain.TurnUpdate{
		Turns:      []domain.Turn{{Role: domain.RoleAssistant, Content: reply, Timestamp: o.now()}},
		Candidates: st.candidates,
		Filter:     st.lastSpec,
	}
	// The reply is recorded even when the turn ran out of time.
	if err := o.sessions.Append(context.WithoutCancel(ctx), sessionID, update); err != nil {
		log.Error().Err(err).Msg("recording assistant turn failed")
		span.RecordError(err)
	}

	result := domain.AgentTurnResult{
		SessionID:   sessionID,
		Message:     reply,
		CartActions: actions,
		Products:    st.candidates,
		Aborted:     reason != "",
		AbortReason: reason,
		Iterations:  st.iteration,
	}

	elapsed := o.now().Sub(start)
	span.SetAttributes(
		attribute.Int("turn.iterations", st.iteration),
		attribute.Int("turn.candidates", len(st.candidates)),
		attribute.Int("turn.cart_actions", len(actions)),
		attribute.Bool("turn.aborted", result.Aborted),
	)
	data := map[string]any{
		"sessionId":   sessionID,
		"iterations":  st.iteration,
		"candidates":  len(st.candidates),
		"cartActions": len(actions),
		"duration":    elapsed,
	}
	if result.Aborted {
		span.SetStatus(codes.Error, string(reason))
		data["reason"] = string(reason)
		o.hooks.Emit(ctx, hooks.EventTurnAborted, data)
		log.Warn().
			Str("reason", string(reason)).
			Int("iterations", st.iteration).
			Dur("duration", elapsed).
			Msg("chat turn aborted")
	} else {
		o.hooks.Emit(ctx, hooks.EventTurnCompleted, data)
		log.Info().
			Int("iterations", st.iteration).
			Int("candidates", len(st.candidates)).
			Int("cartActions", len(actions)).
			Dur("duration", elapsed).
			Msg("chat turn completed")
	}
	return result, nil
}

func validateTurn(sessionID, message string) error {
	switch {
	case sessionID == "":
		return domain.Validationf("chat", "session id is required")
	case len(sessionID) > maxSessionIDLen:
		return domain.Validationf("chat", "session id exceeds %d characters", maxSessionIDLen)
	case message == "":
		return domain.Validationf("chat", "message is empty")
	case utf8.RuneCountInString(message) > maxMessageLen:
		return domain.Validationf("chat", "message exceeds %d characters", maxMessageLen)
	case !utf8.ValidString(message):
		return domain.Validationf("chat", "message is not valid UTF-8")
	}
	return nil
}

// loop runs Reasoning and Executing until the model answers without tool
// calls, the iteration bound is hit, or the model is unavailable. It returns
// the reply text and, for an aborted turn, the reason.
func (o *Orchestrator) loop(ctx context.Context, st *turnState, sess *domain.Session, message string, log *logging.Logger) (string, domain.AbortReason) {
	native := o.model.NativeTools()
	system := BuildSystemPrompt(PromptConfig{
		Tools:         o.tools.Definitions(),
		PromptedTools: !native,
		Categories:    o.translator.Categories(ctx),
		ExtraPrompt:   o.opts.ExtraPrompt,
		Now:           o.now(),
	})

	messages := make([]llm.Message, 0, len(sess.Turns)+1)
	for _, t := range sess.Turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	for st.iteration < o.opts.MaxIterations {
		st.iteration++

		req := llm.CompletionRequest{
			System:      system,
			Messages:    messages,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
		}
		if native {
			req.Tools = o.tools.Definitions()
		}

		resp, err := o.reason(ctx, st, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return FallbackReply, domain.AbortTimeout
			}
			log.Error().Err(err).Int("iteration", st.iteration).Msg("model unavailable")
			return UnavailableReply, domain.AbortUpstreamModel
		}

		calls := requestedCalls(resp)
		if len(calls) == 0 {
			reply := stripToolCalls(resp.Content, log)
			if reply == "" {
				reply = FallbackReply
			}
			return reply, ""
		}

		// ToolRequested → Executing.
		results := make([]observation, 0, len(calls))
		for _, call := range calls {
			results = append(results, o.execute(ctx, st, call))
		}

		if native {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})
			for _, r := range results {
				messages = append(messages, llm.Message{Role: llm.RoleTool, Content: r.Output, ToolCallID: r.Call.ID})
			}
		} else {
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: formatToolResults(results)},
			)
		}

		if ctx.Err() != nil {
			return FallbackReply, domain.AbortTimeout
		}
	}

	log.Warn().
		Err(domain.NewError(domain.ErrOrchestrationLimit, "agent.loop", nil)).
		Int("maxIterations", o.opts.MaxIterations).
		Msg("iteration bound reached")
	return FallbackReply, domain.AbortIterationLimit
}

// reason performs one Reasoning step.
func (o *Orchestrator) reason(ctx context.Context, st *turnState, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := o.tracer.Start(ctx, "agent.reasoning", trace.WithAttributes(
		attribute.Int("iteration", st.iteration),
		attribute.Int("messages", len(req.Messages)),
	))
	defer span.End()

	start := o.now()
	resp, err := o.model.Complete(ctx, req)
	elapsed := o.now().Sub(start)

	data := map[string]any{
		"sessionId": st.sessionID,
		"iteration": st.iteration,
		"duration":  elapsed,
		"success":   err == nil,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		data["error"] = err.Error()
		o.hooks.Emit(ctx, hooks.EventReasoningStep, data)
		return nil, err
	}

	calls := requestedCalls(resp)
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	span.SetAttributes(
		attribute.String("model", resp.Model),
		attribute.Int("tokens.input", resp.Usage.InputTokens),
		attribute.Int("tokens.output", resp.Usage.OutputTokens),
		attribute.StringSlice("tool_calls", names),
	)
	data["model"] = resp.Model
	data["toolCalls"] = names
	data["inputTokens"] = resp.Usage.InputTokens
	data["outputTokens"] = resp.Usage.OutputTokens
	o.hooks.Emit(ctx, hooks.EventReasoningStep, data)

	o.log.Debug().
		Str("sessionId", st.sessionID).
		Int("iteration", st.iteration).
		Strs("toolCalls", names).
		Dur("duration", elapsed).
		Msg("reasoning step")
	return resp, nil
}

// execute dispatches one tool call. Every failure becomes an observation
// for the model; nothing here aborts the turn.
func (o *Orchestrator) execute(ctx context.Context, st *turnState, call llm.ToolCall) observation {
	kind := ParseToolKind(call.Name)
	ctx, span := o.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.Int("iteration", st.iteration),
		attribute.String("input", truncate(call.Input, 512)),
	))
	defer span.End()

	start := o.now()
	obs := observation{Call: call, Kind: kind}

	if kind == ToolUnknown {
		obs.Err = fmt.Errorf("unknown tool %q", call.Name)
		obs.Output = fmt.Sprintf("Unknown tool %q. Available tools: %s, %s.", call.Name, ToolNameSearchCatalog, ToolNameDetectReferences)
	} else if err := o.tools.Validate(kind, call.Input); err != nil {
		obs.Err = domain.Validationf(kind.String(), "%v", err)
		obs.Output = fmt.Sprintf("Invalid input for %s: %v", kind, err)
	} else {
		switch kind {
		case ToolCatalogQuery:
			var in catalogQueryInput
			_ = json.Unmarshal([]byte(call.Input), &in)
			obs.Output, obs.Err = o.searchCatalog(ctx, st, in)
		case ToolReferenceDetect:
			var in referenceDetectInput
			_ = json.Unmarshal([]byte(call.Input), &in)
			obs.Output = o.detectReferences(ctx, st, in)
		}
	}

	elapsed := o.now().Sub(start)
	if obs.Err != nil {
		span.RecordError(obs.Err)
		span.SetStatus(codes.Error, "tool failed")
	}
	span.SetAttributes(attribute.String("output", truncate(obs.Output, 1024)))

	data := map[string]any{
		"sessionId": st.sessionID,
		"iteration": st.iteration,
		"tool":      call.Name,
		"input":     call.Input,
		"output":    obs.Output,
		"duration":  elapsed,
		"success":   obs.Err == nil,
	}
	if obs.Err != nil {
		data["error"] = obs.Err.Error()
	}
	o.hooks.Emit(ctx, hooks.EventToolExecuted, data)

	ev := o.log.Info()
	if obs.Err != nil {
		ev = o.log.Warn().Err(obs.Err)
	}
	ev.Str("sessionId", st.sessionID).
		Int("iteration", st.iteration).
		Str("tool", call.Name).
		Dur("duration", elapsed).
		Msg("tool executed")
	return obs
}

// productView is the product shape shown to the model.
type productView struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Rating      float64 `json:"rating"`
	Category    string  `json:"category"`
}

func (o *Orchestrator) searchCatalog(ctx context.Context, st *turnState, in catalogQueryInput) (string, error) {
	prior, priorCandidates := st.prior, st.priorCandidates
	if st.lastSpec != nil {
		// A refinement within the turn builds on this turn's last search.
		prior, priorCandidates = st.lastSpec, st.candidates
	}

	tr, err := o.translator.Translate(ctx, in.Query, prior, priorCandidates)
	if err != nil {
		return searchErrorText, domain.NewError(domain.ErrToolExecution, ToolNameSearchCatalog, err)
	}

	spec := tr.Spec
	st.lastSpec = &spec
	st.candidates = st.candidates.Merge(tr.Candidates)

	var b strings.Builder
	if len(tr.Candidates) == 0 {
		b.WriteString(noResultsText)
	} else {
		views := make([]productView, len(tr.Candidates))
		for i, p := range tr.Candidates {
			views[i] = productView{p.ID, p.Name, p.Description, p.Price, p.Rating, p.Category}
		}
		data, _ := json.Marshal(views)
		fmt.Fprintf(&b, "Found %d product(s): %s", len(tr.Candidates), data)
		if tr.Total > len(tr.Candidates) {
			fmt.Fprintf(&b, "\n(%d products match in total; showing the first %d.)", tr.Total, len(tr.Candidates))
		}
	}
	for _, n := range spec.Notes {
		fmt.Fprintf(&b, "\nNote: %s", n)
	}
	return b.String(), nil
}

func (o *Orchestrator) detectReferences(ctx context.Context, st *turnState, in referenceDetectInput) string {
	if len(st.candidates) == 0 {
		return "No products have been found in this turn yet, so nothing can be referenced."
	}
	res := o.detector.Detect(ctx, in.Text, st.candidates)
	st.detected = domain.CandidateSet(st.detected).Merge(res.Products)
	if len(res.Products) == 0 {
		return "The text does not reference any of the products found in this turn."
	}
	type ref struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	refs := make([]ref, len(res.Products))
	for i, p := range res.Products {
		refs[i] = ref{p.ID, p.Name}
	}
	data, _ := json.Marshal(refs)
	return fmt.Sprintf("Referenced products: %s", data)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
