package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/telemetry"
)

// OrchestratorConfig controls prompt construction and the retry policy.
type OrchestratorConfig struct {
	HistoryTurns    int
	MaxPromptTokens int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds a single backend call; zero leaves only the turn deadline.
	AttemptTimeout time.Duration
	Completion     CompletionOptions
}

// DefaultOrchestratorConfig returns the default generation settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HistoryTurns:    4,
		MaxPromptTokens: 6000,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		AttemptTimeout:  60 * time.Second,
		Completion: CompletionOptions{
			Temperature: 0.1,
			MaxTokens:   1024,
		},
	}
}

// StateObserver is told when generation moves to a new turn state.
type StateObserver func(domain.TurnState) error

// Orchestrator drives one generation call per turn and commits the result to
// the conversation.
type Orchestrator struct {
	backend    GenerationBackend
	reconciler *Reconciler
	prompts    PromptBuilder
	cfg        OrchestratorConfig
	metrics    Metrics
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(backend GenerationBackend, reconciler *Reconciler, tokenizer Tokenizer, cfg OrchestratorConfig, metrics Metrics) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		backend:    backend,
		reconciler: reconciler,
		prompts: PromptBuilder{
			MaxPromptTokens: cfg.MaxPromptTokens,
			Tokenizer:       tokenizer,
		},
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}
}

// Generate calls the backend with the context and recent history, reconciles
// citations and appends the turn to conv. Nothing is appended unless the whole
// turn succeeds before ctx is done.
func (o *Orchestrator) Generate(ctx context.Context, query domain.Query, used *domain.AssembledContext, conv *domain.ConversationState, observe StateObserver) (*domain.Answer, error) {
	if observe == nil {
		observe = func(domain.TurnState) error { return nil }
	}
	if strings.TrimSpace(query.Text) == "" {
		return nil, domain.ErrEmptyQuery
	}

	turnID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.Generate", telemetry.SpanAttributes{
		SessionID: query.ConversationID,
		TurnID:    turnID,
		Operation: "generate",
	})
	defer span.End()

	query.History = conv.Last(o.cfg.HistoryTurns)
	prompt := o.prompts.Build(query, used)

	completion, attempts, err := o.complete(ctx, prompt)
	o.metrics.GenerationAttempts(attempts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if err := observe(domain.TurnStateReconciling); err != nil {
		return nil, err
	}
	spans, violations := o.reconciler.Reconcile(completion.Text, completion.Attribution, used)
	if violations > 0 {
		o.metrics.ConsistencyViolations(violations)
	}

	answer := &domain.Answer{
		SessionID:  query.ConversationID,
		TurnID:     turnID,
		Text:       completion.Text,
		Spans:      spans,
		Citations:  domain.BuildCitations(spans, used),
		Attempts:   attempts,
		Violations: violations,
	}
	if err := answer.Validate(used); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, canceledError(err)
	}
	conv.Append(domain.Turn{
		ID:        turnID,
		Query:     query.Text,
		Answer:    *answer,
		CreatedAt: o.now().UTC(),
	})
	return answer, nil
}

func (o *Orchestrator) complete(ctx context.Context, prompt Prompt) (*Completion, int, error) {
	policy := backoff.NewExponentialBackOff()
	if o.cfg.InitialInterval > 0 {
		policy.InitialInterval = o.cfg.InitialInterval
	}
	if o.cfg.MaxInterval > 0 {
		policy.MaxInterval = o.cfg.MaxInterval
	}
	policy.MaxElapsedTime = 0
	retries := o.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	var (
		completion *Completion
		attempts   int
		lastKind   FailureKind
	)
	operation := func() error {
		attempts++
		callCtx := ctx
		if o.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
			defer cancel()
		}

		c, err := o.backend.Complete(callCtx, prompt, o.cfg.Completion)
		if err == nil {
			completion = c
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		lastKind = ClassifyFailure(err)
		if lastKind == FailureTransient {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("generation: attempt %d failed, retrying in %s: %v", attempts, wait, err)
		telemetry.RecordAttempt(ctx, attempts, wait, err)
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		if completion == nil {
			completion = &Completion{}
		}
		return completion, attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, attempts, canceledError(ctxErr)
	}
	if lastKind == FailureRejected {
		return nil, attempts, domain.NewGenerationRejected(attempts, err)
	}
	return nil, attempts, domain.NewGenerationFailed(attempts, err)
}

// canceledError wraps a context error as a CANCELED domain error.
func canceledError(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Code == domain.ErrCodeCanceled {
		return err
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeCanceled, domain.ErrTurnCanceled.Message, err)
}
