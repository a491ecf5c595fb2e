package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbqa/internal/api"
)

// turnMeta is what handlers report about a request through response headers.
// Outer middleware only sees it once next has returned.
type turnMeta struct {
	Principal string
	SessionID string
	TurnID    string
	ErrorCode string
}

func readTurnMeta(r *http.Request, w http.ResponseWriter) turnMeta {
	principal := GetPrincipal(r.Context())
	if slot, ok := r.Context().Value(principalSlotKey{}).(*principalSlot); ok && principal == "" {
		principal = slot.name
	}
	h := w.Header()
	return turnMeta{
		Principal: principal,
		SessionID: h.Get(api.SessionHeader),
		TurnID:    h.Get(api.TurnHeader),
		ErrorCode: h.Get(api.ErrorCodeHeader),
	}
}

func (m turnMeta) tags() map[string]string {
	tags := make(map[string]string, 4)
	for k, v := range map[string]string{
		"principal":  m.Principal,
		"session_id": m.SessionID,
		"turn_id":    m.TurnID,
		"error_code": m.ErrorCode,
	} {
		if v != "" {
			tags[k] = v
		}
	}
	return tags
}

// routePattern returns the matched chi pattern, e.g. /sessions/{id}/history,
// falling back to the raw path outside a chi router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
