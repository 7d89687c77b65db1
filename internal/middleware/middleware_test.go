package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/eventingest/internal/auth"
	"github.com/rpattn/eventingest/internal/logging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdentityMiddlewarePopulatesContext(t *testing.T) {
	catalogID, userID := uuid.New(), uuid.New()
	var gotCatalog, gotUser uuid.UUID

	handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCatalog, _ = auth.CatalogIDFromContext(r.Context())
		gotUser, _ = auth.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(HeaderCatalogID, catalogID.String())
	req.Header.Set(HeaderUserID, userID.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, catalogID, gotCatalog)
	assert.Equal(t, userID, gotUser)
}

func TestIdentityMiddlewareRejectsMalformedHeader(t *testing.T) {
	called := false
	handler := IdentityMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	handler := LoggingMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
