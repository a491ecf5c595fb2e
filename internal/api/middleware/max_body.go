package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
)

const (
	// QueryBodyLimit bounds questions and session calls.
	QueryBodyLimit int64 = 64 << 10
	// DocumentBodyLimit bounds a single uploaded document.
	DocumentBodyLimit int64 = 5 << 20
)

// MaxBodyBytes rejects requests whose declared length exceeds limit and caps
// reads of the rest. A handler that reads past the cap gets a decode error.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation,
					fmt.Sprintf("request body exceeds %d bytes", limit)))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
