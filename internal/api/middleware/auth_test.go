package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

type MockAuthValidator struct {
	mock.Mock
}

func (m *MockAuthValidator) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func authed(v AuthValidator, seen *string) http.Handler {
	return APIKeyAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAPIKeyAuth_AcceptsBearer(t *testing.T) {
	for _, header := range []string{"Bearer kbqa-test-key", "bearer kbqa-test-key", "Bearer   kbqa-test-key "} {
		t.Run(header, func(t *testing.T) {
			v := new(MockAuthValidator)
			v.On("ValidateAPIKey", mock.Anything, "kbqa-test-key").Return("cli", nil)

			var principal string
			req := httptest.NewRequest(http.MethodPost, "/ask", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			authed(v, &principal).ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, "cli", principal)
			v.AssertExpectations(t)
		})
	}
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"no header", "", "missing authorization header"},
		{"basic scheme", "Basic abc123", "Bearer scheme"},
		{"scheme only", "Bearer", "Bearer scheme"},
		{"blank token", "Bearer   ", "Bearer scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := new(MockAuthValidator)
			var principal string
			req := httptest.NewRequest(http.MethodGet, "/chunks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authed(v, &principal).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			assert.Contains(t, w.Body.String(), domain.ErrCodeUnauthorized)
			assert.Equal(t, `Bearer realm="kbqa"`, w.Header().Get("WWW-Authenticate"))
			assert.Empty(t, principal)
			v.AssertNotCalled(t, "ValidateAPIKey", mock.Anything, mock.Anything)
		})
	}
}

func TestAPIKeyAuth_UnknownKey(t *testing.T) {
	v := new(MockAuthValidator)
	v.On("ValidateAPIKey", mock.Anything, "wrong-key").Return("", domain.ErrInvalidAPIKey)

	var principal string
	req := httptest.NewRequest(http.MethodGet, "/chunks", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	authed(v, &principal).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid api key")
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	v.AssertExpectations(t)
}

func TestStaticKeyValidator_Rotation(t *testing.T) {
	v := NewStaticKeyValidator("current", "api-key").With("old", "previous-api-key")
	ctx := context.Background()

	principal, err := v.ValidateAPIKey(ctx, "current")
	assert.NoError(t, err)
	assert.Equal(t, "api-key", principal)

	principal, err = v.ValidateAPIKey(ctx, "old")
	assert.NoError(t, err)
	assert.Equal(t, "previous-api-key", principal)

	_, err = v.ValidateAPIKey(ctx, "curren")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	_, err = v.ValidateAPIKey(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestGetPrincipal_Unauthenticated(t *testing.T) {
	assert.Empty(t, GetPrincipal(context.Background()))
}
