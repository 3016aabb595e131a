package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/recall/internal/config"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/internal/observability"
	"github.com/sandevgo/recall/internal/service/memory"
	"github.com/sandevgo/recall/pkg/log"
	"github.com/sandevgo/recall/pkg/retry"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateReceived         State = "RECEIVED"
	StateShortTermFetched State = "SHORT_TERM_FETCHED"
	StateLongTermFetched  State = "LONG_TERM_FETCHED"
	StateSemanticFetched  State = "SEMANTIC_FETCHED"
	StateFeedbackFetched  State = "FEEDBACK_FETCHED"
	StateBudgetAllocated  State = "BUDGET_ALLOCATED"
	StateAssembled        State = "ASSEMBLED"
	StateModelInvoked     State = "MODEL_INVOKED"
	StatePersisted        State = "PERSISTED"
	StateComplete         State = "COMPLETE"
	StateFailed           State = "FAILED"
)

// Step names recorded in request_trace.
const (
	StepShortTerm = "short_term_fetch"
	StepLongTerm  = "long_term_fetch"
	StepSemantic  = "semantic_fetch"
	StepFeedback  = "feedback_fetch"
	StepBudget    = "budget_allocation"
	StepAssemble  = "prompt_assembly"
	StepModel     = "model_invocation"
	StepPersist   = "persist"
)

// Layers reported in ObservabilityTrace.Degraded.
const (
	LayerNameShortTerm = "short_term"
	LayerNameLongTerm  = "long_term"
	LayerNameSemantic  = "semantic"
	LayerNameFeedback  = "feedback"
)

var ErrClosed = errors.New("orchestrator is closed")

// Deps are the handles the orchestrator works with. Traces and Metrics are optional.
type Deps struct {
	Model     core.LanguageModel
	ModelName string
	Counter   *memory.TokenCounter
	ShortTerm *memory.ShortTermStore
	Profiles  *memory.ProfileStore
	Semantic  *memory.SemanticRetriever
	Feedback  *memory.FeedbackStore
	Traces    core.TraceRepository
	Metrics   *observability.Metrics
}

// Orchestrator runs the per-turn pipeline: fetch the four memory layers, fit them
// into the context window, call the model, persist the turn and enrich memory.
type Orchestrator struct {
	cfg  config.MemoryConfig
	deps Deps

	lanes        *lanes
	modelRetrier *retry.Retrier
	layerRetrier *retry.Retrier

	// mu orders pending.Add against Close
	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func New(cfg config.MemoryConfig, deps Deps) *Orchestrator {
	if deps.Counter == nil {
		deps.Counter = memory.NewTokenCounter(deps.ModelName)
	}
	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		lanes:        newLanes(),
		modelRetrier: newRetrier(cfg.MaxRetries, cfg.ModelTimeout),
		layerRetrier: newRetrier(cfg.MaxRetries, cfg.ExternalTimeout),
	}
}

func newRetrier(maxRetries int, attemptTimeout time.Duration) *retry.Retrier {
	return retry.NewRetrier(&retry.Config{
		MaxRetries:     maxRetries,
		BackoffFactor:  2,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		Jitter:         50 * time.Millisecond,
		AttemptTimeout: attemptTimeout,
		Retryable:      core.IsTransient,
	})
}

// turn carries the state of one HandleTurn call.
type turn struct {
	userID         string
	conversationID string
	message        string

	trace    *core.ObservabilityTrace
	rec      *observability.Recorder
	window   core.ConversationBuffer
	profile  core.UserProfile
	semantic []core.ScoredRecord
	feedback []core.Correction
	alloc    *allocation
	reply    core.Completion
}

func (t *turn) advance(s State) {
	t.trace.State = string(s)
}

func (t *turn) degrade(ctx context.Context, layer string, err error) {
	t.trace.Degraded = append(t.trace.Degraded, layer)
	log.FromCtx(ctx).Warn().Err(err).Str("layer", layer).Msg("memory layer degraded")
}

// HandleTurn processes one user message. Validation and budget failures return an
// error before the model is called; a failed model call is fatal as well. Failures
// of optional layers only mark the trace as degraded. Whenever a trace exists it
// is returned, including on error.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, conversationID, message string) (*core.TurnResult, error) {
	if err := validate(userID, message); err != nil {
		return nil, err
	}
	if !o.begin() {
		return nil, ErrClosed
	}
	// enrich takes over the pending slot once the reply is ready
	handedOff := false
	defer func() {
		if !handedOff {
			o.pending.Done()
		}
	}()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	t := &turn{
		userID:         userID,
		conversationID: conversationID,
		message:        strings.TrimSpace(message),
		trace:          core.NewObservabilityTrace(uuid.NewString()),
		rec:            observability.NewRecorder(),
	}
	t.advance(StateReceived)

	ctx = log.WithFields(ctx,
		"request_id", t.trace.RequestID,
		"user_id", userID,
		"conversation_id", conversationID,
	)
	logger := log.FromCtx(ctx)

	release, err := o.lanes.acquire(ctx, conversationID)
	if err != nil {
		return o.fail(ctx, t, fmt.Errorf("wait for conversation: %w", err))
	}

	if err := o.fetch(ctx, t); err != nil {
		release()
		return o.fail(ctx, t, err)
	}
	if err := o.prepare(ctx, t); err != nil {
		release()
		return o.fail(ctx, t, err)
	}
	if err := o.invoke(ctx, t); err != nil {
		release()
		return o.fail(ctx, t, err)
	}

	userTurn, assistantTurn := o.persist(ctx, t)

	t.advance(StateComplete)
	o.finish(t)
	o.saveTrace(ctx, t)
	o.deps.Metrics.ObserveTrace(t.trace, t.reply.Usage.CompletionTokens)

	logger.Info().
		Int("prompt_tokens", t.trace.TokenUsage.Total).
		Float64("cost", t.trace.TokenUsage.Cost).
		Float64("latency_ms", t.trace.RequestTrace.TotalLatencyMs).
		Strs("degraded", t.trace.Degraded).
		Msg("turn handled")

	handedOff = true
	o.enrich(ctx, t, userTurn, assistantTurn, release)

	return &core.TurnResult{
		ResponseText:   t.reply.Text,
		ConversationID: conversationID,
		Trace:          t.trace,
	}, nil
}

// begin registers an in-flight turn unless Close was called.
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.pending.Add(1)
	return true
}

func validate(userID, message string) error {
	if strings.TrimSpace(userID) == "" {
		return &core.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(message) == "" {
		return &core.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	return nil
}

// fetch reads the four memory layers in priority order. Only cancellation stops it.
func (o *Orchestrator) fetch(ctx context.Context, t *turn) error {
	end := t.rec.Step(StepShortTerm)
	window, err := o.deps.ShortTerm.Window(ctx, t.conversationID)
	if err != nil {
		t.degrade(ctx, LayerNameShortTerm, err)
	}
	if window.UserID != "" && window.UserID != t.userID {
		end()
		return &core.ValidationError{Field: "conversation_id", Reason: "belongs to another user"}
	}
	window.ConversationID = t.conversationID
	t.window = window
	end()
	t.advance(StateShortTermFetched)
	if err := ctx.Err(); err != nil {
		return err
	}

	end = t.rec.Step(StepLongTerm)
	profile, err := o.deps.Profiles.Snapshot(ctx, t.userID)
	if err != nil {
		// Snapshot hands back the last known profile alongside the error
		t.degrade(ctx, LayerNameLongTerm, err)
	}
	t.profile = profile
	end()
	t.advance(StateLongTermFetched)
	if err := ctx.Err(); err != nil {
		return err
	}

	end = t.rec.Step(StepSemantic)
	err = o.layerRetrier.DoCtx(ctx, func(ctx context.Context) error {
		var qerr error
		t.semantic, qerr = o.deps.Semantic.Query(ctx, t.userID, t.message, o.cfg.SemanticTopK, o.cfg.SimilarityThreshold)
		return qerr
	})
	if err != nil {
		t.semantic = nil
		t.degrade(ctx, LayerNameSemantic, err)
	}
	end()
	t.advance(StateSemanticFetched)
	if err := ctx.Err(); err != nil {
		return err
	}

	end = t.rec.Step(StepFeedback)
	corrections, err := o.deps.Feedback.ActiveCorrections(ctx, t.userID)
	if err != nil {
		t.degrade(ctx, LayerNameFeedback, err)
	}
	t.feedback = corrections
	end()
	t.advance(StateFeedbackFetched)
	return ctx.Err()
}

// prepare allocates the budget and assembles the prompt.
func (o *Orchestrator) prepare(ctx context.Context, t *turn) error {
	end := t.rec.Step(StepBudget)
	b := budget{tc: o.deps.Counter, model: o.deps.ModelName}
	alloc, err := b.allocate(budgetInput{
		Window:        o.cfg.MaxContextWindow,
		Reserve:       o.cfg.ResponseBufferTokens,
		CorrectionCap: o.cfg.CorrectionTokenCap,
		System:        o.cfg.GetSystemPrompt(),
		Message:       t.message,
		Corrections:   t.feedback,
		Profile:       t.profile,
		Summary:       t.window.Summary,
		Turns:         t.window.Turns,
		Semantic:      t.semantic,
	})
	end()
	if err != nil {
		t.trace.TokenUsage.EstimatedResponse = o.cfg.ResponseBufferTokens
		return err
	}
	t.alloc = alloc
	t.advance(StateBudgetAllocated)

	end = t.rec.Step(StepAssemble)
	included := includedIDs(alloc.Turns)
	for i := range t.window.Turns {
		t.window.Turns[i].IncludedInPrompt = included[t.window.Turns[i].ID]
	}
	t.trace.TokenUsage.Total = alloc.Total
	t.trace.TokenUsage.Breakdown = alloc.Breakdown
	end()
	t.advance(StateAssembled)

	log.FromCtx(ctx).Debug().
		Int("prompt_tokens", alloc.Total).
		Int("turns", len(alloc.Turns)).
		Int("semantic", len(alloc.Semantic)).
		Int("corrections", len(alloc.Corrections)).
		Msg("prompt assembled")
	return ctx.Err()
}

func (o *Orchestrator) invoke(ctx context.Context, t *turn) error {
	maxTokens := o.cfg.MaxResponseTokens
	if room := o.cfg.MaxContextWindow - t.alloc.Total; maxTokens <= 0 || room < maxTokens {
		maxTokens = max(room, 1)
	}

	end := t.rec.Step(StepModel)
	attempt := 0
	err := o.modelRetrier.DoCtx(ctx, func(ctx context.Context) error {
		attempt++
		reply, err := o.deps.Model.Complete(ctx, core.CompletionRequest{
			Prompt:    t.alloc.Prompt,
			Model:     o.deps.ModelName,
			MaxTokens: maxTokens,
		})
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("model call failed")
			return err
		}
		t.reply = reply
		return nil
	})
	end()
	if err != nil {
		return fmt.Errorf("model invocation: %w", err)
	}
	t.advance(StateModelInvoked)

	usage := &t.trace.TokenUsage
	prompt, completion := t.reply.Usage.PromptTokens, t.reply.Usage.CompletionTokens
	if prompt == 0 {
		prompt = usage.Total
	}
	if completion == 0 {
		completion = o.deps.Counter.Count(t.reply.Text, o.deps.ModelName)
	}
	usage.EstimatedResponse = completion
	model := t.reply.Model
	if model == "" {
		model = o.deps.ModelName
	}
	usage.Cost = o.deps.Counter.Cost(model, prompt, completion)
	return nil
}

// persist records inclusion flags and appends both turns. Failures are logged and
// surface as partial success; the reply is returned regardless.
func (o *Orchestrator) persist(ctx context.Context, t *turn) (core.Turn, core.Turn) {
	end := t.rec.Step(StepPersist)
	defer end()

	userTurn := o.deps.ShortTerm.NewTurn(core.RoleUser, t.message)
	assistantTurn := o.deps.ShortTerm.NewTurn(core.RoleAssistant, t.reply.Text)

	var errs []error
	if err := o.deps.ShortTerm.MarkIncluded(ctx, t.userID, t.conversationID, includedIDs(t.alloc.Turns)); err != nil {
		errs = append(errs, err)
	}
	if _, err := o.deps.ShortTerm.Append(ctx, t.userID, t.conversationID, userTurn, assistantTurn); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrPersistence, err)
		t.trace.PartialSuccess = true
		t.trace.Error = err.Error()
		log.FromCtx(ctx).Error().Err(err).Msg("failed to persist turn")
	}
	t.advance(StatePersisted)
	return userTurn, assistantTurn
}

// finish freezes the request trace and copies the memory views into the trace.
func (o *Orchestrator) finish(t *turn) {
	t.trace.RequestTrace = t.rec.Snapshot()
	if t.window.Turns == nil {
		t.window.Turns = []core.Turn{}
	}
	t.trace.ShortTerm = t.window

	lt := &t.trace.LongTerm
	if t.profile.Preferences != nil {
		lt.Preferences = t.profile.Preferences
		lt.BehaviorPatterns = t.profile.BehaviorPatterns
		lt.Context = t.profile.Context
	}
	if !t.profile.LastUpdated.IsZero() {
		at := t.profile.LastUpdated
		lt.LastUpdated = &at
	}

	if t.alloc != nil {
		t.trace.Semantic.RelevantMemories = nonNil(t.alloc.Semantic)
		t.trace.Feedback.Corrections = nonNil(t.alloc.Corrections)
	} else {
		t.trace.Semantic.RelevantMemories = nonNil(t.semantic)
		t.trace.Feedback.Corrections = nonNil(t.feedback)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (o *Orchestrator) fail(ctx context.Context, t *turn, err error) (*core.TurnResult, error) {
	t.advance(StateFailed)
	t.trace.Error = err.Error()
	o.finish(t)
	o.saveTrace(context.WithoutCancel(ctx), t)
	o.deps.Metrics.ObserveTrace(t.trace, 0)

	log.FromCtx(ctx).Error().Err(err).Msg("turn failed")
	return &core.TurnResult{ConversationID: t.conversationID, Trace: t.trace}, err
}

func (o *Orchestrator) saveTrace(ctx context.Context, t *turn) {
	if o.deps.Traces == nil {
		return
	}
	if err := o.deps.Traces.SaveTrace(ctx, t.userID, t.conversationID, t.trace); err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("failed to save trace")
		if t.trace.State != string(StateFailed) {
			t.trace.PartialSuccess = true
		}
	}
}

// enrich runs profile extraction, correction detection and semantic indexing in the
// background. The conversation lane is released only when all of them are done.
// The caller's pending slot is released by the goroutine.
func (o *Orchestrator) enrich(ctx context.Context, t *turn, userTurn, assistantTurn core.Turn, release func()) {
	ctx = context.WithoutCancel(ctx)
	o.deps.Metrics.EnrichmentStarted()

	go func() {
		defer o.pending.Done()
		defer o.deps.Metrics.EnrichmentFinished()
		defer release()

		logger := log.FromCtx(ctx)
		var (
			g           errgroup.Group
			updatedKeys []string
		)

		g.Go(func() error {
			keys, err := o.deps.Profiles.ExtractAndMerge(ctx, t.userID, t.message)
			if err != nil {
				o.deps.Metrics.EnrichmentFailed("profile")
				return fmt.Errorf("profile: %w", err)
			}
			updatedKeys = keys
			return nil
		})
		g.Go(func() error {
			if _, err := o.deps.Feedback.DetectAndStore(ctx, t.userID, t.conversationID, t.message); err != nil {
				o.deps.Metrics.EnrichmentFailed("feedback")
				return fmt.Errorf("feedback: %w", err)
			}
			return nil
		})
		for _, tr := range []core.Turn{userTurn, assistantTurn} {
			g.Go(func() error {
				_, err := o.deps.Semantic.Index(ctx, t.userID, tr.Content, map[string]core.Value{
					"conversation_id": core.String(t.conversationID),
					"request_id":      core.String(t.trace.RequestID),
					"turn_id":         core.String(tr.ID),
					"role":            core.String(tr.Role),
				})
				if err != nil && !errors.Is(err, memory.ErrNoSignal) {
					o.deps.Metrics.EnrichmentFailed("semantic")
					return fmt.Errorf("semantic index: %w", err)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			logger.Warn().Err(err).Msg("enrichment incomplete")
		}

		if len(updatedKeys) > 0 && o.deps.Traces != nil {
			// the caller owns t.trace, so the stored copy gets the keys
			stored := *t.trace
			stored.LongTerm.UpdatedKeys = updatedKeys
			if err := o.deps.Traces.SaveTrace(ctx, t.userID, t.conversationID, &stored); err != nil {
				logger.Error().Err(err).Msg("failed to update trace with profile keys")
			}
		}
		logger.Debug().Strs("updated_keys", updatedKeys).Msg("enrichment done")
	}()
}

// Wait blocks until in-flight turns and their enrichment have finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Close stops accepting turns and waits for in-flight turns, their enrichment or ctx.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.FromCtx(ctx).Info().Msg("orchestrator drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain enrichment: %w", ctx.Err())
	}
}
