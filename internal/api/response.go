package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// StatusClientClosedRequest is used when the caller canceled a turn before it finished.
const StatusClientClosedRequest = 499

// retryAfterSeconds is sent with retryable backend failures.
const retryAfterSeconds = "2"

// Response headers that describe a turn. Middleware reads them after the
// handler has run to tag logs and traces.
const (
	SessionHeader   = "X-KBQA-Session"
	TurnHeader      = "X-KBQA-Turn"
	ErrorCodeHeader = "X-KBQA-Error-Code"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:           http.StatusBadRequest,
	domain.ErrCodeNotFound:             http.StatusNotFound,
	domain.ErrCodeAlreadyExists:        http.StatusConflict,
	domain.ErrCodeUnauthorized:         http.StatusUnauthorized,
	domain.ErrCodeRetrievalUnavailable: http.StatusServiceUnavailable,
	domain.ErrCodeContextOverflow:      http.StatusUnprocessableEntity,
	domain.ErrCodeGenerationRejected:   http.StatusUnprocessableEntity,
	domain.ErrCodeGenerationFailed:     http.StatusBadGateway,
}

// codeByStatus gives plain Error responses a code so clients can branch on it.
var codeByStatus = map[int]string{
	http.StatusBadRequest:            domain.ErrCodeValidation,
	http.StatusRequestEntityTooLarge: domain.ErrCodeValidation,
	http.StatusUnauthorized:          domain.ErrCodeUnauthorized,
	http.StatusNotFound:              domain.ErrCodeNotFound,
	http.StatusConflict:              domain.ErrCodeAlreadyExists,
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("api: failed to encode response: %v", err)
		}
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error response for a request the handler rejected itself.
func Error(w http.ResponseWriter, status int, message string) {
	writeError(w, status, ErrorResponse{Error: message, Code: codeByStatus[status]})
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	if resp.Code != "" {
		w.Header().Set(ErrorCodeHeader, resp.Code)
	}
	JSON(w, status, resp)
}

// DomainErrorToHTTP maps an error to the status it is reported with.
// Anything that is not a known domain error is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	if domainErr.Code == domain.ErrCodeCanceled {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return StatusClientClosedRequest
	}
	if status, ok := statusByCode[domainErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes the error envelope for err. Errors without a domain code
// are logged and reported as a generic internal error.
func HandleError(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		log.Printf("api: unhandled error: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  domain.ErrCodeInternalError,
		})
		return
	}

	status := DomainErrorToHTTP(err)
	retryable := domain.IsRetryable(err)
	if retryable && status >= http.StatusInternalServerError {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeError(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      domainErr.Code,
		Retryable: retryable,
		Attempts:  domainErr.Attempts,
	})
}

// DecodeJSON reads one JSON value from the request body into dst and writes
// the error response itself when that fails. A body cut off by
// http.MaxBytesReader is a 413.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		Error(w, http.StatusBadRequest, "request body is empty")
	default:
		Error(w, http.StatusBadRequest, "invalid request body")
	}
	return false
}
