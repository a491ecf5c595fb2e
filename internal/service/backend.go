package service

import (
	"context"
	"errors"
	"net"
)

// CompletionOptions are per-call generation settings.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// AttributedSegment marks a byte range of the completion text and the source
// IDs the backend claims support it.
type AttributedSegment struct {
	Start     int
	End       int
	SourceIDs []string
}

// Attribution is a backend's structured grounding signal.
type Attribution struct {
	Segments []AttributedSegment
}

// Completion is the raw result of a backend call. Attribution is nil when the
// backend gives no structured signal.
type Completion struct {
	Text        string
	Attribution *Attribution
}

// GenerationBackend is the external text generation capability.
type GenerationBackend interface {
	Complete(ctx context.Context, prompt Prompt, opts CompletionOptions) (*Completion, error)
}

// FailureKind classifies a backend error for the retry policy.
type FailureKind int

const (
	FailurePermanent FailureKind = iota
	FailureTransient
	FailureRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRejected:
		return "rejected"
	default:
		return "permanent"
	}
}

// BackendError tags a backend failure with its kind.
type BackendError struct {
	Kind FailureKind
	Err  error
}

func (e *BackendError) Error() string {
	return e.Kind.String() + " backend error: " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// TransientError marks err as retryable (timeouts, rate limits, 5xx).
func TransientError(err error) error {
	return &BackendError{Kind: FailureTransient, Err: err}
}

// RejectedError marks err as a content-policy rejection.
func RejectedError(err error) error {
	return &BackendError{Kind: FailureRejected, Err: err}
}

// ClassifyFailure returns the kind of a backend error. Untagged timeouts are
// transient; everything else untagged is permanent.
func ClassifyFailure(err error) FailureKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}
	return FailurePermanent
}
