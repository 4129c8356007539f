package authz_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/parcelhub/internal/authz"
	"github.com/parcelhub/parcelhub/internal/platform/httpx"
	"github.com/parcelhub/parcelhub/internal/shared"
)

func newRouter(e *env) (http.Handler, *int) {
	mw := authz.Middleware{Gate: e.gate, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	hits := new(int)
	ok := func(w http.ResponseWriter, r *http.Request) {
		*hits++
		httpx.JSON(w, http.StatusOK, shared.PrincipalFromContext(r.Context()))
	}
	r := chi.NewRouter()
	r.With(mw.Authenticate()).Get("/me", ok)
	r.With(mw.RequirePermission("shipment:write")).Post("/shipments", ok)
	r.With(mw.RequireRole("guest")).Get("/guest", ok)
	return r, hits
}

func do(t *testing.T, h http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestMiddlewareAdmitsAndStoresPrincipal(t *testing.T) {
	e := newEnv(t)
	h, hits := newRouter(e)

	rec := do(t, h, http.MethodPost, "/shipments", "Bearer "+e.tokenFor(t, e.user))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *hits)

	var p shared.Principal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, e.user.ID, p.UserID)
	assert.Equal(t, "admin", p.Role)
}

func TestMiddlewareMissingToken(t *testing.T) {
	e := newEnv(t)
	h, hits := newRouter(e)

	for _, auth := range []string{"", "Basic dXNlcjpwYXNz", "Bearer"} {
		rec := do(t, h, http.MethodGet, "/me", auth)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "missing_token")
		assert.Equal(t, "missing_token", decodeProblem(t, rec).Code)
	}
	assert.Zero(t, *hits)
}

func TestMiddlewareForbiddenKinds(t *testing.T) {
	e := newEnv(t)
	h, hits := newRouter(e)
	raw := e.tokenFor(t, e.user)

	rec := do(t, h, http.MethodGet, "/guest", "Bearer "+raw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_role", decodeProblem(t, rec).Code)

	require.NoError(t, e.store.ReplaceRoleGrants(t.Context(), e.admin.ID, nil))
	rec = do(t, h, http.MethodPost, "/shipments", "bearer "+raw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "insufficient_permission", p.Code)
	assert.Equal(t, "access denied", p.Detail)
	assert.Zero(t, *hits)
}

func TestMiddlewareUnavailableHidesCause(t *testing.T) {
	e := newEnv(t)
	h, hits := newRouter(e)
	raw := e.tokenFor(t, e.user)
	e.store.FailWith(errors.New("dial tcp 10.0.0.7:5432: connection refused"))

	rec := do(t, h, http.MethodGet, "/me", "Bearer "+raw)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
	assert.Zero(t, *hits)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "  Bearer   abc.def.ghi ")
	assert.Equal(t, "abc.def.ghi", authz.BearerToken(req))

	req.Header.Set("Authorization", "Token abc")
	assert.Empty(t, authz.BearerToken(req))
}
