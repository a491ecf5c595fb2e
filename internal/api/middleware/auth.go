package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
)

type (
	principalKey     struct{}
	principalSlotKey struct{}
)

// principalSlot hands the authenticated principal back to middleware wrapping
// the auth group, which never sees the context auth derives.
type principalSlot struct{ name string }

// withPrincipalSlot returns r carrying a slot, reusing one installed further out.
func withPrincipalSlot(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(principalSlotKey{}).(*principalSlot); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), principalSlotKey{}, &principalSlot{}))
}

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("authorization must use the Bearer scheme")
)

// AuthValidator resolves an API key to the principal it belongs to.
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// StaticKeyValidator accepts a fixed set of keys. Keys are held as SHA-256
// sums and compared in constant time.
type StaticKeyValidator struct {
	keys []staticKey
}

type staticKey struct {
	sum       [sha256.Size]byte
	principal string
}

func NewStaticKeyValidator(key, principal string) *StaticKeyValidator {
	v := &StaticKeyValidator{}
	return v.With(key, principal)
}

// With adds another accepted key, for rotating keys without downtime.
func (v *StaticKeyValidator) With(key, principal string) *StaticKeyValidator {
	v.keys = append(v.keys, staticKey{sum: sha256.Sum256([]byte(key)), principal: principal})
	return v
}

func (v *StaticKeyValidator) ValidateAPIKey(_ context.Context, token string) (string, error) {
	got := sha256.Sum256([]byte(token))
	principal := ""
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare(got[:], k.sum[:]) == 1 {
			principal = k.principal
		}
	}
	if principal == "" {
		return "", domain.ErrInvalidAPIKey
	}
	return principal, nil
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// APIKeyAuth rejects requests without a valid bearer key and stores the
// resolved principal in the request context.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="kbqa"`)
				api.Error(w, http.StatusUnauthorized, err.Error())
				return
			}

			principal, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="kbqa", error="invalid_token"`)
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			if slot, ok := r.Context().Value(principalSlotKey{}).(*principalSlot); ok {
				slot.name = principal
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

// GetPrincipal returns the authenticated principal, or "" on unauthenticated routes.
func GetPrincipal(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey{}).(string)
	return principal
}
