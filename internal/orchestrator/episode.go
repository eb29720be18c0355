// Package orchestrator drives one assistant-generation episode: the bounded
// tool-calling round loop against the model provider, the per-tool security
// contract, the tools-disabled fallback pass, and finalization onto the
// owning conversation turn. Every observable step is written to the event
// log before anything else sees it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/llm"
	"github.com/capitalize-ai/assistant-core/internal/model"
	"github.com/capitalize-ai/assistant-core/internal/scope"
	"github.com/capitalize-ai/assistant-core/internal/store"
	"github.com/capitalize-ai/assistant-core/internal/tool"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
	"github.com/capitalize-ai/assistant-core/pkg/metrics"
)

var tracer = otel.Tracer("orchestrator")

const systemPrompt = "You are an assistant helping a user work on business entities " +
	"(organizations, folders, use cases). Use the available tools to read or update " +
	"entities and to research on the web. Answer concisely."

// resultClip bounds how much of a tool result is carried into the fallback
// digest and into tool-output messages.
const resultClip = 4000

// Config holds orchestrator tuning.
type Config struct {
	MaxRounds     int
	MaxTokens     int
	DefaultModel  string
	FallbackModel string
}

// EpisodeRequest triggers one generation episode.
type EpisodeRequest struct {
	SessionID  string
	ExchangeID string

	Model string

	ContextKind         model.ContextKind
	ContextID           string
	SecondaryContextIDs []string
	ToolFilter          []string

	MaxRounds int
	Effort    string
}

// toolExecutionRecord is the transient in-memory trace of one executed tool
// call, folded into tool_call_result events and the fallback digest.
type toolExecutionRecord struct {
	toolCallID string
	name       string
	arguments  string
	result     string
	failed     bool
}

// Orchestrator runs generation episodes.
type Orchestrator struct {
	appender  Appender
	publisher Publisher
	entities  *store.EntityStore
	turns     *store.TurnStore
	registry  *tool.Registry
	policy    scope.WorkspacePolicy
	client    llm.Client
	cfg       Config
	logger    *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an orchestrator.
func New(appender Appender, publisher Publisher, entities *store.EntityStore, turns *store.TurnStore, registry *tool.Registry, policy scope.WorkspacePolicy, client llm.Client, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	return &Orchestrator{
		appender:  appender,
		publisher: publisher,
		entities:  entities,
		turns:     turns,
		registry:  registry,
		policy:    policy,
		client:    client,
		cfg:       cfg,
		logger:    log,
		running:   make(map[string]context.CancelFunc),
	}
}

// PrepareExchange creates the placeholder assistant turn and the exchange
// record whose id doubles as the stream id for the episode's events.
func (o *Orchestrator) PrepareExchange(ctx context.Context, sessionID, tenantID, userID, workspaceID string) (*model.Exchange, error) {
	existing, err := o.turns.TurnsBefore(ctx, sessionID, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to load session turns: %w", err)
	}

	now := time.Now().UTC()
	turn := &model.ConversationTurn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Ordinal:   len(existing),
		Role:      model.RoleAssistant,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.turns.PutTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("failed to create assistant turn: %w", err)
	}

	exchange := &model.Exchange{
		ID:          uuid.Must(uuid.NewV7()).String(),
		SessionID:   sessionID,
		TurnID:      turn.ID,
		TenantID:    tenantID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
	}
	if err := o.entities.PutExchange(ctx, exchange); err != nil {
		return nil, fmt.Errorf("failed to create exchange: %w", err)
	}

	return exchange, nil
}

// Cancel aborts a running episode. Unknown ids are ignored.
func (o *Orchestrator) Cancel(exchangeID string) {
	o.mu.Lock()
	cancel, ok := o.running[exchangeID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) register(exchangeID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.running[exchangeID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(exchangeID string) {
	o.mu.Lock()
	delete(o.running, exchangeID)
	o.mu.Unlock()
}

// RunEpisode runs one episode to completion. All progress is observable only
// through the event log; the returned error is for the triggering job runner.
func (o *Orchestrator) RunEpisode(ctx context.Context, req EpisodeRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(req.ExchangeID, cancel)
	defer o.unregister(req.ExchangeID)

	ctx, span := tracer.Start(ctx, "episode")
	defer span.End()
	span.SetAttributes(
		attribute.String("exchange_id", req.ExchangeID),
		attribute.String("session_id", req.SessionID),
	)

	em := &emitter{
		appender:   o.appender,
		publisher:  o.publisher,
		streamID:   req.ExchangeID,
		exchangeID: req.ExchangeID,
	}

	err := o.runEpisode(ctx, req, em)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EpisodesTotal.WithLabelValues("failed").Inc()
		o.logger.Error("episode failed",
			zap.String("exchange_id", req.ExchangeID), zap.Error(err))
		return err
	}

	metrics.EpisodesTotal.WithLabelValues("completed").Inc()
	return nil
}

func (o *Orchestrator) runEpisode(ctx context.Context, req EpisodeRequest, em *emitter) error {
	start := time.Now()

	exchange, err := o.entities.GetExchange(ctx, req.ExchangeID)
	if err != nil {
		return fmt.Errorf("failed to load exchange: %w", err)
	}

	if err := em.status(ctx, "started", ""); err != nil {
		return fmt.Errorf("failed to write start event: %w", err)
	}

	sc, err := scope.Resolve(ctx, o.entities, o.policy, req.ContextKind, req.ContextID, req.SecondaryContextIDs, req.ToolFilter)
	if err != nil {
		em.errorEvent(ctx, "scope_resolution_failed", err.Error())
		return fmt.Errorf("scope resolution failed: %w", err)
	}

	if req.Effort != "" {
		if err := em.status(ctx, "reasoning_effort_selected", req.Effort); err != nil {
			return err
		}
	}

	activeTurn, prior, err := o.loadTurns(ctx, req.SessionID, exchange.TurnID)
	if err != nil {
		em.errorEvent(ctx, "conversation_load_failed", err.Error())
		return err
	}

	messages := buildMessages(prior)

	maxRounds := o.cfg.MaxRounds
	if req.MaxRounds > 0 && req.MaxRounds < maxRounds {
		maxRounds = req.MaxRounds
	}

	modelName := req.Model
	if modelName == "" {
		modelName = o.cfg.DefaultModel
	}

	var content, reasoning strings.Builder
	var records []toolExecutionRecord
	var continuation llm.ContinuationToken
	var tokensIn, tokensOut, rounds int

	defs := o.registry.Definitions(sc)

	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			em.errorEvent(ctx, "cancelled", "episode cancelled")
			return fmt.Errorf("episode cancelled: %w", err)
		}
		rounds = round

		resp, err := o.streamRound(ctx, em, &llm.Request{
			Model:        modelName,
			Messages:     messages,
			Tools:        defs,
			Continuation: continuation,
			Effort:       req.Effort,
			MaxTokens:    o.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				em.errorEvent(ctx, "cancelled", "episode cancelled")
				return fmt.Errorf("episode cancelled: %w", ctx.Err())
			}
			// The round is lost but the fallback pass may still recover a
			// final answer from already-executed tools.
			em.errorEvent(ctx, "model_call_failed", err.Error())
			o.logger.Warn("model call failed mid-episode",
				zap.String("exchange_id", req.ExchangeID),
				zap.Int("round", round), zap.Error(err))
			break
		}

		content.WriteString(resp.Content)
		reasoning.WriteString(resp.Reasoning)
		continuation = resp.Continuation
		tokensIn += resp.TokensIn
		tokensOut += resp.TokensOut

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if err := em.status(ctx, "awaiting_tool_results", fmt.Sprintf("%d tool calls", len(resp.ToolCalls))); err != nil {
			return err
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				em.errorEvent(ctx, "cancelled", "episode cancelled")
				return fmt.Errorf("episode cancelled: %w", err)
			}

			record, err := o.executeToolCall(ctx, em, sc, call)
			if err != nil {
				// Only event-log write failures propagate from here.
				return err
			}
			records = append(records, *record)

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    record.result,
				ToolCallID: call.ID,
			})
		}
	}

	// Fallback pass: the loop ended without content, either because the model
	// only ever called tools or because a round failed.
	if content.Len() == 0 {
		if err := em.status(ctx, "fallback_pass", ""); err != nil {
			return err
		}

		fallbackContent, err := o.fallbackPass(ctx, em, modelName, messages, records)
		if err != nil {
			em.errorEvent(ctx, "fallback_failed", err.Error())
			return fmt.Errorf("fallback pass failed: %w", err)
		}
		if fallbackContent == "" {
			em.errorEvent(ctx, "empty_output", "no content produced after fallback pass")
			return errors.New("episode produced no content")
		}
		content.WriteString(fallbackContent)
	}

	metrics.EpisodeRounds.Observe(float64(rounds))

	// Exactly one terminal event, regardless of how many rounds ran.
	if err := em.emit(ctx, model.EventTypeDone, model.DoneData{
		Rounds:    rounds,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		LatencyMs: time.Since(start).Milliseconds(),
	}); err != nil {
		return fmt.Errorf("failed to write done event: %w", err)
	}

	if err := o.turns.SetFinal(ctx, req.SessionID, activeTurn.Ordinal, content.String(), reasoning.String()); err != nil {
		return fmt.Errorf("failed to persist turn content: %w", err)
	}

	return nil
}

// loadTurns fetches the active assistant turn and the read-only turns before
// it.
func (o *Orchestrator) loadTurns(ctx context.Context, sessionID, turnID string) (*model.ConversationTurn, []model.ConversationTurn, error) {
	all, err := o.turns.TurnsBefore(ctx, sessionID, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load turns: %w", err)
	}

	for i := range all {
		if all[i].ID == turnID {
			return &all[i], all[:i], nil
		}
	}
	return nil, nil, fmt.Errorf("active turn %s not found in session %s", turnID, sessionID)
}

func buildMessages(prior []model.ConversationTurn) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemPrompt}}
	for _, turn := range prior {
		if turn.Content == nil || *turn.Content == "" {
			continue
		}
		role := string(turn.Role)
		if turn.Role == model.RoleTool {
			// Historic tool turns are folded in as plain context.
			role = string(model.RoleUser)
		}
		messages = append(messages, llm.Message{Role: role, Content: *turn.Content})
	}
	return messages
}

// streamRound performs one model call, mirroring every delta into the event
// log as it arrives.
func (o *Orchestrator) streamRound(ctx context.Context, em *emitter, req *llm.Request) (*llm.Response, error) {
	start := time.Now()

	resp, err := o.client.StreamChat(ctx, req, func(delta llm.Delta) error {
		switch delta.Type {
		case llm.DeltaContent:
			return em.emit(ctx, model.EventTypeContentDelta, model.DeltaData{Text: delta.Text})
		case llm.DeltaReasoning:
			return em.emit(ctx, model.EventTypeReasoningDelta, model.DeltaData{Text: delta.Text})
		case llm.DeltaToolCallStart:
			return em.emit(ctx, model.EventTypeToolCallStart, model.ToolCallStartData{
				ToolCallID: delta.ToolCallID,
				Name:       delta.ToolName,
			})
		case llm.DeltaToolCallArgs:
			return em.emit(ctx, model.EventTypeToolCallDelta, model.ToolCallDeltaData{
				ToolCallID: delta.ToolCallID,
				Fragment:   delta.ArgsFragment,
			})
		}
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	tokensIn, tokensOut := tokensOf(resp)
	metrics.RecordLLMStream(req.Model, status, time.Since(start).Seconds(), tokensIn, tokensOut)
	return resp, err
}

func tokensOf(resp *llm.Response) (int, int) {
	if resp == nil {
		return 0, 0
	}
	return resp.TokensIn, resp.TokensOut
}

// executeToolCall runs one requested tool call under the security contract.
// Validation failures and execution failures become error results; only a
// failure to write the result event is returned.
func (o *Orchestrator) executeToolCall(ctx context.Context, em *emitter, sc *scope.Scope, call llm.ToolCallRequest) (*toolExecutionRecord, error) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	if err := em.emit(ctx, model.EventTypeToolCallResult, model.ToolCallResultData{
		ToolCallID: call.ID,
		Name:       call.Name,
		Status:     model.ToolCallStatusExecuting,
	}); err != nil {
		return nil, err
	}

	record := &toolExecutionRecord{
		toolCallID: call.ID,
		name:       call.Name,
		arguments:  call.Arguments,
	}

	result, execErr := o.dispatch(ctx, sc, call)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()

		record.failed = true
		record.result = execErr.Error()

		if err := em.emit(ctx, model.EventTypeToolCallResult, model.ToolCallResultData{
			ToolCallID: call.ID,
			Name:       call.Name,
			Status:     model.ToolCallStatusError,
			Error:      execErr.Error(),
		}); err != nil {
			return nil, err
		}
		return record, nil
	}

	metrics.ToolCallsTotal.WithLabelValues(call.Name, "completed").Inc()
	record.result = clip(string(result), resultClip)

	if err := em.emit(ctx, model.EventTypeToolCallResult, model.ToolCallResultData{
		ToolCallID: call.ID,
		Name:       call.Name,
		Status:     model.ToolCallStatusCompleted,
		Result:     result,
	}); err != nil {
		return nil, err
	}
	return record, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, sc *scope.Scope, call llm.ToolCallRequest) ([]byte, error) {
	variant, ok := o.registry.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	if !sc.Allows(call.Name) {
		return nil, fmt.Errorf("%w: tool %q not callable in this context", tool.ErrScopeViolation, call.Name)
	}
	return variant.Execute(ctx, sc, call.Arguments)
}

// fallbackPass runs the single tools-disabled finishing call over a compact
// digest of everything the executed tools returned.
func (o *Orchestrator) fallbackPass(ctx context.Context, em *emitter, modelName string, messages []llm.Message, records []toolExecutionRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("episode cancelled: %w", err)
	}

	if o.cfg.FallbackModel != "" {
		modelName = o.cfg.FallbackModel
	}

	prompt := "Produce the final answer for the user now. Do not request any more " +
		"tools; rely only on the tool results digest below.\n\n" + digest(records)

	resp, err := o.client.StreamChat(ctx, &llm.Request{
		Model: modelName,
		Messages: append(messages, llm.Message{
			Role:    "user",
			Content: prompt,
		}),
		MaxTokens: o.cfg.MaxTokens,
	}, func(delta llm.Delta) error {
		if delta.Type == llm.DeltaContent {
			return em.emit(ctx, model.EventTypeContentDelta, model.DeltaData{Text: delta.Text})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// digest compacts the executed tools' results into the textual form the
// fallback pass is prompted with.
func digest(records []toolExecutionRecord) string {
	if len(records) == 0 {
		return "Tool results digest: no tools were executed."
	}

	var b strings.Builder
	b.WriteString("Tool results digest:\n")
	for i, r := range records {
		status := "ok"
		if r.failed {
			status = "failed"
		}
		fmt.Fprintf(&b, "%d. %s(%s) [%s]: %s\n",
			i+1, r.name, clip(r.arguments, 200), status, clip(r.result, 800))
	}
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
