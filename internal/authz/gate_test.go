package authz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/parcelhub/internal/authz"
	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/rbac/memstore"
	"github.com/parcelhub/parcelhub/internal/token"
)

const secret = "gate-test-secret"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	store  *memstore.Store
	tokens *token.Service
	gate   *authz.Gate
	admin  rbac.Role
	guest  rbac.Role
	user   rbac.User
	now    time.Time
}

type recorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recorder) ObserveDecision(granted bool, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if granted {
		kind = "granted"
	}
	r.kinds = append(r.kinds, kind)
}

func live() rbac.Lifecycle { return rbac.Lifecycle{IsActive: true} }

func newEnv(t *testing.T, opts ...authz.Option) *env {
	t.Helper()
	e := &env{store: memstore.New(), now: epoch}
	e.tokens = token.NewService(secret, time.Hour, token.WithClock(func() time.Time { return e.now }))
	e.admin = e.store.PutRole(rbac.Role{Name: "admin", Lifecycle: live()})
	e.guest = e.store.PutRole(rbac.Role{Name: "guest", Lifecycle: live()})
	read := e.store.PutPermission(rbac.Permission{Name: "shipment:read", Resource: "shipment", Action: "read", Lifecycle: live()})
	write := e.store.PutPermission(rbac.Permission{Name: "shipment:write", Resource: "shipment", Action: "write", Lifecycle: live()})
	e.store.Grant(e.admin.ID, read.ID)
	e.store.Grant(e.admin.ID, write.ID)
	e.user = e.store.PutUser(rbac.User{Email: "u@parcelhub.test", RoleID: &e.admin.ID, Lifecycle: live()})
	e.gate = authz.NewGate(e.tokens, e.store, rbac.NewResolver(e.store), opts...)
	return e
}

func (e *env) tokenFor(t *testing.T, u rbac.User) string {
	t.Helper()
	issued, err := e.tokens.Issue(u.ID, u.Email, []string{"admin"})
	require.NoError(t, err)
	return issued.Token
}

func TestGateGrantsPermissionHeldByRole(t *testing.T) {
	e := newEnv(t)
	p, err := e.gate.Authorize(context.Background(), e.tokenFor(t, e.user), authz.Requirement{Permission: "shipment:write"})
	require.NoError(t, err)
	assert.Equal(t, e.user.ID, p.UserID)
	assert.Equal(t, "admin", p.Role)
	assert.Equal(t, []string{"shipment:read", "shipment:write"}, p.Permissions)
}

func TestGateRoleWithoutGrantsFailsPermissionCheck(t *testing.T) {
	e := newEnv(t)
	guest := e.store.PutUser(rbac.User{Email: "g@parcelhub.test", RoleID: &e.guest.ID, Lifecycle: live()})

	_, err := e.gate.Authorize(context.Background(), e.tokenFor(t, guest), authz.Requirement{Permission: "shipment:read"})
	assert.ErrorIs(t, err, authz.ErrInsufficientPermission)

	p, err := e.gate.Authorize(context.Background(), e.tokenFor(t, guest), authz.Requirement{Roles: []string{"guest"}})
	require.NoError(t, err)
	assert.Empty(t, p.Permissions)
}

func TestGateRejectsForeignSignature(t *testing.T) {
	e := newEnv(t)
	other := token.NewService("someone-else", time.Hour, token.WithClock(func() time.Time { return e.now }))
	issued, err := other.Issue(e.user.ID, e.user.Email, nil)
	require.NoError(t, err)

	_, err = e.gate.Authorize(context.Background(), issued.Token, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrInvalidSignature)
}

func TestGateRejectsUserDeletedAfterIssue(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	require.NoError(t, err)

	at := e.now
	e.store.UpdateUser(e.user.ID, func(u *rbac.User) { u.DeletedAt = &at })
	_, err = e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrUserInvalid)
	assert.Equal(t, e.user.ID, err.(*authz.Error).UserID)
}

func TestGateRejectsInactiveUser(t *testing.T) {
	e := newEnv(t)
	e.store.UpdateUser(e.user.ID, func(u *rbac.User) { u.IsActive = false })
	_, err := e.gate.Authorize(context.Background(), e.tokenFor(t, e.user), authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrUserInvalid)
}

func TestGateRejectsUnusableRole(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	e.store.UpdateRole(e.admin.ID, func(r *rbac.Role) { r.IsActive = false })

	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrUserInvalid)
}

func TestGateTokenFailures(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)

	_, err := e.gate.Authorize(context.Background(), "  ", authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrMissingToken)

	_, err = e.gate.Authorize(context.Background(), "not.a.token", authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrMalformedToken)

	e.now = e.now.Add(2 * time.Hour)
	_, err = e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrExpiredToken)
}

func TestGateIgnoresRoleClaimsInToken(t *testing.T) {
	e := newEnv(t)
	guest := e.store.PutUser(rbac.User{Email: "g@parcelhub.test", RoleID: &e.guest.ID, Lifecycle: live()})
	// The token claims admin but the stored role is guest.
	raw := e.tokenFor(t, guest)

	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{Roles: []string{"admin"}})
	assert.ErrorIs(t, err, authz.ErrInsufficientRole)
}

func TestGateRoleCheckedBeforePermission(t *testing.T) {
	e := newEnv(t)
	_, err := e.gate.Authorize(context.Background(), e.tokenFor(t, e.user), authz.Requirement{
		Roles:      []string{"dispatcher"},
		Permission: "shipment:write",
	})
	assert.ErrorIs(t, err, authz.ErrInsufficientRole)
}

func TestGateUserWithoutRole(t *testing.T) {
	e := newEnv(t)
	loner := e.store.PutUser(rbac.User{Email: "none@parcelhub.test", Lifecycle: live()})
	raw := e.tokenFor(t, loner)

	p, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	require.NoError(t, err)
	assert.Empty(t, p.Role)
	assert.Empty(t, p.Permissions)

	_, err = e.gate.Authorize(context.Background(), raw, authz.Requirement{Roles: []string{"admin"}})
	assert.ErrorIs(t, err, authz.ErrInsufficientRole)
	_, err = e.gate.Authorize(context.Background(), raw, authz.Requirement{Permission: "shipment:read"})
	assert.ErrorIs(t, err, authz.ErrInsufficientPermission)
}

func TestGateSeesRevokedGrantImmediately(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{Permission: "shipment:write"})
	require.NoError(t, err)

	require.NoError(t, e.store.ReplaceRoleGrants(context.Background(), e.admin.ID, nil))
	_, err = e.gate.Authorize(context.Background(), raw, authz.Requirement{Permission: "shipment:write"})
	assert.ErrorIs(t, err, authz.ErrInsufficientPermission)
}

func TestGateRepositoryFailureIsUnavailable(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	e.store.FailWith(errors.New("connection refused"))

	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrAuthorizationUnavailable)
	assert.True(t, authz.KindOf(err).Retryable())
}

type failingGrants struct{ err error }

func (f failingGrants) PermissionsForRole(context.Context, int64) ([]string, error) {
	return nil, f.err
}

func TestGateGrantFailureOnlyBlocksPermissionRoutes(t *testing.T) {
	e := newEnv(t)
	gate := authz.NewGate(e.tokens, e.store, failingGrants{err: errors.New("grants table locked")})
	raw := e.tokenFor(t, e.user)
	ctx := context.Background()

	p, err := gate.Authorize(ctx, raw, authz.Requirement{})
	require.NoError(t, err)
	assert.Empty(t, p.Permissions)
	assert.False(t, p.HasPermission("shipment:read"))

	p, err = gate.Authorize(ctx, raw, authz.Requirement{Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Role)

	_, err = gate.Authorize(ctx, raw, authz.Requirement{Roles: []string{"guest"}})
	assert.ErrorIs(t, err, authz.ErrInsufficientRole)

	_, err = gate.Authorize(ctx, raw, authz.Requirement{Permission: "shipment:read"})
	assert.ErrorIs(t, err, authz.ErrAuthorizationUnavailable)
}

func TestGateLookupTimeoutIsUnavailable(t *testing.T) {
	e := newEnv(t, authz.WithLookupTimeout(20*time.Millisecond))
	raw := e.tokenFor(t, e.user)
	e.store.BlockUntilDone(true)

	_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrAuthorizationUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateCancelledRequestIsUnavailable(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.gate.Authorize(ctx, raw, authz.Requirement{})
	assert.ErrorIs(t, err, authz.ErrAuthorizationUnavailable)
}

func TestGateReportsDecisions(t *testing.T) {
	rec := &recorder{}
	e := newEnv(t, authz.WithObserver(rec))
	raw := e.tokenFor(t, e.user)

	_, _ = e.gate.Authorize(context.Background(), raw, authz.Requirement{})
	_, _ = e.gate.Authorize(context.Background(), "", authz.Requirement{})
	_, _ = e.gate.Authorize(context.Background(), raw, authz.Requirement{Permission: "billing:refund"})

	assert.Equal(t, []string{"granted", "missing_token", "insufficient_permission"}, rec.kinds)
}

func TestGateConcurrentUse(t *testing.T) {
	e := newEnv(t)
	raw := e.tokenFor(t, e.user)
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.gate.Authorize(context.Background(), raw, authz.Requirement{Permission: "shipment:read"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestKindStatusMapping(t *testing.T) {
	cases := map[authz.Kind]int{
		authz.KindMissingToken:             401,
		authz.KindMalformedToken:           401,
		authz.KindInvalidSignature:         401,
		authz.KindExpiredToken:             401,
		authz.KindUserInvalid:              401,
		authz.KindInsufficientRole:         403,
		authz.KindInsufficientPermission:   403,
		authz.KindAuthorizationUnavailable: 503,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), kind)
		assert.Equal(t, kind == authz.KindAuthorizationUnavailable, kind.Retryable(), kind)
	}
	assert.Equal(t, authz.KindAuthorizationUnavailable, authz.KindOf(errors.New("boom")))
}
