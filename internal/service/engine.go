package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/telemetry"
)

// EngineConfig holds per-turn defaults applied when AskOptions leaves a field zero.
type EngineConfig struct {
	DefaultK           int
	DefaultTokenBudget int
	DefaultTimeout     time.Duration
}

// DefaultEngineConfig returns the default turn settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultK:           5,
		DefaultTokenBudget: 1500,
		DefaultTimeout:     90 * time.Second,
	}
}

// AskOptions tune a single turn.
type AskOptions struct {
	K           int
	TokenBudget int
	Timeout     time.Duration
	Filters     domain.RetrievalFilters
}

// Engine runs question answering turns against sessions.
type Engine struct {
	embedder     EmbeddingClient
	retriever    *Retriever
	assembler    *Assembler
	orchestrator *Orchestrator
	sessions     *SessionManager
	cfg          EngineConfig
	metrics      Metrics
	now          func() time.Time
}

// NewEngine wires the turn pipeline.
func NewEngine(
	embedder EmbeddingClient,
	retriever *Retriever,
	assembler *Assembler,
	orchestrator *Orchestrator,
	sessions *SessionManager,
	cfg EngineConfig,
	metrics Metrics,
) *Engine {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	defaults := DefaultEngineConfig()
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = defaults.DefaultK
	}
	if cfg.DefaultTokenBudget <= 0 {
		cfg.DefaultTokenBudget = defaults.DefaultTokenBudget
	}
	return &Engine{
		embedder:     embedder,
		retriever:    retriever,
		assembler:    assembler,
		orchestrator: orchestrator,
		sessions:     sessions,
		cfg:          cfg,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// StartSession creates a new session.
func (e *Engine) StartSession() *Session {
	return e.sessions.Start()
}

// OpenSession starts a session and returns its description.
func (e *Engine) OpenSession() *SessionInfo {
	s := e.sessions.Start()
	return &SessionInfo{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastActive: s.idleSince(),
	}
}

// EndSession destroys a session and its conversation state.
func (e *Engine) EndSession(id string) error {
	return e.sessions.End(id)
}

// History returns the retained turns of a session, oldest first.
func (e *Engine) History(ctx context.Context, id string) (*SessionInfo, []domain.Turn, error) {
	return e.sessions.Info(ctx, id)
}

// Ask answers queryText within a session. An empty sessionID starts a new
// session, which is discarded again if the turn fails. Turns in the same session run one at a time; a failed or canceled
// turn leaves the session's conversation unchanged.
func (e *Engine) Ask(ctx context.Context, sessionID, queryText string, opts AskOptions) (*domain.Answer, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, domain.ErrEmptyQuery
	}

	var (
		session *Session
		err     error
	)
	if sessionID == "" {
		session = e.sessions.Start()
		// The caller only learns the ID from a successful answer.
		defer func() {
			if err != nil {
				_ = e.sessions.End(session.ID())
			}
		}()
	} else if session, err = e.sessions.Get(sessionID); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "Engine.Ask", telemetry.SpanAttributes{
		SessionID: session.ID(),
		Operation: "ask",
	})
	defer span.End()

	if err = session.acquire(ctx); err != nil {
		return nil, err
	}
	defer session.release()

	started := e.now()
	answer, err := e.runTurn(ctx, session, queryText, opts)
	session.touch(e.now().UTC())
	e.metrics.TurnCompleted(domain.CodeOf(err), e.now().Sub(started))
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTurn(answer.TurnID, answer.Attempts, answer.Violations)
	return answer, nil
}

func (e *Engine) runTurn(ctx context.Context, session *Session, queryText string, opts AskOptions) (*domain.Answer, error) {
	trace := domain.NewTurnTrace()
	fail := func(err error) error {
		_ = trace.Enter(domain.TurnStateFailed)
		if ctxErr := ctx.Err(); ctxErr != nil && domain.CodeOf(err) == "" {
			return canceledError(ctxErr)
		}
		return err
	}

	k := opts.K
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = e.cfg.DefaultTokenBudget
	}

	if err := trace.Enter(domain.TurnStateRetrieving); err != nil {
		return nil, fail(err)
	}
	embedding, err := e.embedder.GenerateEmbedding(ctx, queryText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(err)
		}
		return nil, fail(domain.NewDomainErrorWithCause(domain.ErrCodeRetrievalUnavailable, "query embedding failed", err))
	}
	results, err := e.retriever.Retrieve(ctx, embedding, k, opts.Filters)
	if err != nil {
		return nil, fail(err)
	}

	if err := trace.Enter(domain.TurnStateAssembling); err != nil {
		return nil, fail(err)
	}
	used, err := e.assembler.Assemble(results, budget)
	if err != nil {
		return nil, fail(err)
	}

	if err := trace.Enter(domain.TurnStateGenerating); err != nil {
		return nil, fail(err)
	}
	query := domain.Query{Text: queryText, ConversationID: session.ID()}
	answer, err := e.orchestrator.Generate(ctx, query, used, session.conv, trace.Enter)
	if err != nil {
		return nil, fail(err)
	}

	if err := trace.Enter(domain.TurnStateIdle); err != nil {
		return nil, fail(err)
	}
	answer.States = trace.States()
	return answer, nil
}
