package rbac_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/shared"
)

// headerGuard admits requests carrying the permission name in X-Perm.
type headerGuard struct{}

func (headerGuard) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Perm") != perm {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), &shared.Principal{UserID: 1, Permissions: []string{perm}})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newPermissionsRouter(t *testing.T) (http.Handler, *recordingAudit) {
	t.Helper()
	f := newFixture(t)
	audit := &recordingAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := rbac.NewPermissionsHandler(logger, rbac.NewService(f.store, nil, audit, logger), headerGuard{})
	r := chi.NewRouter()
	r.Route("/permissions", h.MountRoutes)
	return r, audit
}

func TestPermissionsHandlerList(t *testing.T) {
	h, _ := newPermissionsRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/permissions/", nil)
	req.Header.Set("X-Perm", shared.PermPermissionsView)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var perms []rbac.Permission
	require.NoError(t, json.NewDecoder(res.Body).Decode(&perms))
	require.Len(t, perms, 2)
	assert.Equal(t, "shipment:read", perms[0].Name)
}

func TestPermissionsHandlerCreate(t *testing.T) {
	h, audit := newPermissionsRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/permissions/", strings.NewReader(`{"resource":"Invoice","action":"Refund"}`))
	req.Header.Set("X-Perm", shared.PermPermissionsEdit)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var perm rbac.Permission
	require.NoError(t, json.NewDecoder(res.Body).Decode(&perm))
	assert.Equal(t, "invoice:refund", perm.Name)
	assert.Equal(t, []string{shared.AuditPermissionCreated}, audit.actions())

	req = httptest.NewRequest(http.MethodPost, "/permissions/", strings.NewReader(`{"resource":"shipment","action":"read"}`))
	req.Header.Set("X-Perm", shared.PermPermissionsEdit)
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusConflict, res.Code)

	req = httptest.NewRequest(http.MethodPost, "/permissions/", strings.NewReader(`{"resource":"a:b","action":"read"}`))
	req.Header.Set("X-Perm", shared.PermPermissionsEdit)
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPermissionsHandlerGuarded(t *testing.T) {
	h, _ := newPermissionsRouter(t)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/permissions/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusForbidden, res.Code)
}
