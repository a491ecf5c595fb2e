package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// SpanAttributes tag a span. Zero fields are left off.
type SpanAttributes struct {
	SessionID string
	TurnID    string
	SourceURI string
	Operation string
	K         int
}

func (a SpanAttributes) apply(span *sentry.Span) {
	if a.SessionID != "" {
		span.SetTag("session_id", a.SessionID)
	}
	if a.TurnID != "" {
		span.SetTag("turn_id", a.TurnID)
	}
	if a.Operation != "" {
		span.SetTag("operation", a.Operation)
	}
	if a.SourceURI != "" {
		span.SetData("source_uri", a.SourceURI)
	}
	if a.K > 0 {
		span.SetData("k", a.K)
	}
}

// Span is a started Sentry span. A nil inner span makes every method a no-op.
type Span struct {
	inner *sentry.Span
}

// StartSpan opens a child of the span already in ctx, or a new transaction
// when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// statusForCode is the span status of a failure with a domain code. Codes
// missing here are service faults and get reported as exceptions.
var statusForCode = map[string]sentry.SpanStatus{
	domain.ErrCodeValidation:         sentry.SpanStatusInvalidArgument,
	domain.ErrCodeNotFound:           sentry.SpanStatusNotFound,
	domain.ErrCodeAlreadyExists:      sentry.SpanStatusAlreadyExists,
	domain.ErrCodeUnauthorized:       sentry.SpanStatusUnauthenticated,
	domain.ErrCodeContextOverflow:    sentry.SpanStatusFailedPrecondition,
	domain.ErrCodeGenerationRejected: sentry.SpanStatusPermissionDenied,
}

// SpanStatusFor classifies err and reports whether it should be captured as
// an exception.
func SpanStatusFor(err error) (sentry.SpanStatus, bool) {
	code := domain.CodeOf(err)
	if code == domain.ErrCodeCanceled {
		if errors.Is(err, context.DeadlineExceeded) {
			return sentry.SpanStatusDeadlineExceeded, false
		}
		return sentry.SpanStatusCanceled, false
	}
	if status, ok := statusForCode[code]; ok {
		return status, false
	}
	if code == domain.ErrCodeRetrievalUnavailable {
		return sentry.SpanStatusUnavailable, true
	}
	return sentry.SpanStatusInternalError, true
}

// SetError marks the span failed and captures service faults.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	if code := domain.CodeOf(err); code != "" {
		s.inner.SetTag("error_code", code)
	}
	status, capture := SpanStatusFor(err)
	s.inner.Status = status
	if !capture {
		return
	}
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

// SetTurn marks the span as a successful turn.
func (s *Span) SetTurn(turnID string, attempts, violations int) {
	if s.inner == nil {
		return
	}
	s.inner.SetTag("turn_id", turnID)
	s.inner.SetData("attempts", attempts)
	s.inner.SetData("consistency_violations", violations)
	s.inner.Status = sentry.SpanStatusOK
}

// RecordAttempt leaves a breadcrumb for a failed generation attempt that will be retried.
func RecordAttempt(ctx context.Context, attempt int, wait time.Duration, err error) {
	crumb := &sentry.Breadcrumb{
		Category:  "generation",
		Level:     sentry.LevelWarning,
		Message:   fmt.Sprintf("attempt %d failed, retrying in %s", attempt, wait.Round(time.Millisecond)),
		Data:      map[string]any{"attempt": attempt, "error": err.Error()},
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(crumb, nil)
		return
	}
	sentry.AddBreadcrumb(crumb)
}
