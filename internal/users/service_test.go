package users_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/parcelhub/internal/authz"
	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/rbac/memstore"
	"github.com/parcelhub/parcelhub/internal/shared"
	"github.com/parcelhub/parcelhub/internal/token"
	"github.com/parcelhub/parcelhub/internal/users"
)

type fixture struct {
	store   *memstore.Store
	tokens  *token.Service
	service *users.Service
	admin   rbac.User
	guest   rbac.Role
	target  rbac.User
}

func live() rbac.Lifecycle { return rbac.Lifecycle{IsActive: true} }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	adminRole := store.PutRole(rbac.Role{Name: shared.RoleAdmin, Lifecycle: live()})
	guest := store.PutRole(rbac.Role{Name: shared.RoleGuest, Lifecycle: live()})
	for _, name := range []string{shared.PermUsersView, shared.PermUsersEdit} {
		resource, action, _ := strings.Cut(name, ":")
		p := store.PutPermission(rbac.Permission{Name: name, Resource: resource, Action: action, Lifecycle: live()})
		store.Grant(adminRole.ID, p.ID)
	}
	return &fixture{
		store:   store,
		tokens:  token.NewService("users-test-secret", time.Hour),
		service: users.NewService(store, nil, nil),
		admin:   store.PutUser(rbac.User{Email: "admin@parcelhub.test", RoleID: &adminRole.ID, Lifecycle: live()}),
		guest:   guest,
		target:  store.PutUser(rbac.User{Email: "driver@parcelhub.test", Lifecycle: live()}),
	}
}

func TestAssignAndClearRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.service.AssignRole(ctx, f.admin.ID, f.target.ID, &f.guest.ID)
	require.NoError(t, err)
	require.NotNil(t, acc.RoleID)
	assert.Equal(t, f.guest.ID, *acc.RoleID)

	acc, err = f.service.AssignRole(ctx, f.admin.ID, f.target.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, acc.RoleID)
}

func TestAssignUnknownRole(t *testing.T) {
	f := newFixture(t)
	missing := int64(9999)
	_, err := f.service.AssignRole(context.Background(), f.admin.ID, f.target.ID, &missing)
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
}

func TestCannotLockYourselfOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.SetActive(context.Background(), f.admin.ID, f.admin.ID, false)
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
	assert.ErrorIs(t, f.service.Delete(context.Background(), f.admin.ID, f.admin.ID), rbac.ErrInvalidInput)
}

func TestDeleteHidesUserFromList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.Delete(ctx, f.admin.ID, f.target.ID))

	list, err := f.service.ListUsers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.service.ListUsers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	assert.ErrorIs(t, f.service.Delete(ctx, f.admin.ID, f.target.ID), rbac.ErrNotFound)
}

func newRouter(f *fixture) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := authz.NewGate(f.tokens, f.store, rbac.NewResolver(f.store))
	h := users.NewHandler(logger, f.service, authz.Middleware{Gate: gate, Logger: logger})
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	return r
}

func (f *fixture) bearer(t *testing.T, u rbac.User) string {
	t.Helper()
	issued, err := f.tokens.Issue(u.ID, u.Email, nil)
	require.NoError(t, err)
	return "Bearer " + issued.Token
}

func TestHandlerListAndDeactivate(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/users/", nil)
	req.Header.Set("Authorization", f.bearer(t, f.admin))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	var list []users.Account
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	assert.Len(t, list, 2)
	assert.NotContains(t, res.Body.String(), "password")

	req = httptest.NewRequest(http.MethodPost, "/users/"+strconv.FormatInt(f.target.ID, 10)+"/deactivate", nil)
	req.Header.Set("Authorization", f.bearer(t, f.admin))
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	// The deactivated user's token stops working immediately.
	req = httptest.NewRequest(http.MethodGet, "/users/", nil)
	req.Header.Set("Authorization", f.bearer(t, f.target))
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandlerRequiresEditPermission(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)
	f.store.UpdateUser(f.target.ID, func(u *rbac.User) { u.RoleID = &f.guest.ID })

	req := httptest.NewRequest(http.MethodPut, "/users/"+strconv.FormatInt(f.admin.ID, 10)+"/role", strings.NewReader(`{"role_id":null}`))
	req.Header.Set("Authorization", f.bearer(t, f.target))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestHandlerAssignRoleValidation(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	req := httptest.NewRequest(http.MethodPut, "/users/abc/role", strings.NewReader(`{"role_id":1}`))
	req.Header.Set("Authorization", f.bearer(t, f.admin))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	req = httptest.NewRequest(http.MethodPut, "/users/"+strconv.FormatInt(f.target.ID, 10)+"/role", strings.NewReader(`{"role_id":-4}`))
	req.Header.Set("Authorization", f.bearer(t, f.admin))
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
