package middleware

import (
	"net/http"
	"strings"

	"github.com/rpattn/eventingest/internal/auth"

	"github.com/google/uuid"
)

// Identity headers set by the fronting gateway.
const (
	HeaderCatalogID = "X-Catalog-ID"
	HeaderUserID    = "X-User-ID"
)

// IdentityMiddleware copies the gateway's catalog and user headers into the
// request context. Malformed identifiers are rejected.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(HeaderCatalogID)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid "+HeaderCatalogID+" header", http.StatusBadRequest)
				return
			}
			ctx = auth.ContextWithCatalogID(ctx, id)
		}
		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid "+HeaderUserID+" header", http.StatusBadRequest)
				return
			}
			ctx = auth.ContextWithUserID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
