package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/parcelhub/parcelhub/internal/auth"
	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/rbac/memstore"
	"github.com/parcelhub/parcelhub/internal/shared"
	"github.com/parcelhub/parcelhub/internal/token"
)

type sessionLog struct {
	mu       sync.Mutex
	sessions []auth.Session
	err      error
}

func (l *sessionLog) RecordSession(_ context.Context, s auth.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
	return l.err
}

type fixture struct {
	store    *memstore.Store
	tokens   *token.Service
	sessions *sessionLog
	service  *auth.Service
	customer rbac.Role
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), sessions: &sessionLog{}}
	f.tokens = token.NewService("auth-test-secret", time.Hour)
	f.customer = f.store.PutRole(rbac.Role{Name: shared.RoleCustomer, Lifecycle: rbac.Lifecycle{IsActive: true}})
	f.service = auth.NewService(f.store, f.tokens,
		auth.WithHashCost(bcrypt.MinCost),
		auth.WithDefaultRole(shared.RoleCustomer),
		auth.WithSessionRecorder(f.sessions),
	)
	return f
}

func (f *fixture) putUser(t *testing.T, email, password string, roleID *int64) rbac.User {
	t.Helper()
	return f.store.PutUser(rbac.User{
		Email:        email,
		PasswordHash: hash(t, password),
		RoleID:       roleID,
		Lifecycle:    rbac.Lifecycle{IsActive: true},
	})
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	f := newFixture(t)
	user := f.putUser(t, "ops@parcelhub.test", "correct-horse", &f.customer.ID)

	res, err := f.service.Login(context.Background(), " OPS@parcelhub.test ", "correct-horse", auth.ClientMeta{IP: "10.1.1.1", UserAgent: "curl"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, shared.RoleCustomer, res.User.Role)

	ident, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, ident.UserID)
	assert.Equal(t, []string{shared.RoleCustomer}, ident.Roles)

	require.Len(t, f.sessions.sessions, 1)
	s := f.sessions.sessions[0]
	assert.Equal(t, user.ID, s.UserID)
	assert.Equal(t, "10.1.1.1", s.IP)
	assert.Equal(t, res.ExpiresAt, s.ExpiresAt)
	assert.NotEmpty(t, s.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	user := f.putUser(t, "ops@parcelhub.test", "correct-horse", nil)

	_, err := f.service.Login(context.Background(), "ops@parcelhub.test", "wrong-horse", auth.ClientMeta{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.service.Login(context.Background(), "nobody@parcelhub.test", "correct-horse", auth.ClientMeta{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	f.store.UpdateUser(user.ID, func(u *rbac.User) { u.IsActive = false })
	_, err = f.service.Login(context.Background(), "ops@parcelhub.test", "correct-horse", auth.ClientMeta{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Empty(t, f.sessions.sessions)
}

func TestLoginStoreFailureIsNotInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(errors.New("db down"))

	_, err := f.service.Login(context.Background(), "ops@parcelhub.test", "whatever1", auth.ClientMeta{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginWithUnusableRoleOmitsRoleClaim(t *testing.T) {
	f := newFixture(t)
	f.putUser(t, "ops@parcelhub.test", "correct-horse", &f.customer.ID)
	f.store.UpdateRole(f.customer.ID, func(r *rbac.Role) { r.IsActive = false })

	res, err := f.service.Login(context.Background(), "ops@parcelhub.test", "correct-horse", auth.ClientMeta{})
	require.NoError(t, err)
	assert.Empty(t, res.User.Role)
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	f := newFixture(t)
	res, err := f.service.Register(context.Background(), "New@Parcelhub.test", "long-enough", auth.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, "new@parcelhub.test", res.User.Email)
	assert.Equal(t, shared.RoleCustomer, res.User.Role)

	stored, err := f.store.FindUserByEmail(context.Background(), "new@parcelhub.test")
	require.NoError(t, err)
	require.NotNil(t, stored.RoleID)
	assert.Equal(t, f.customer.ID, *stored.RoleID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("long-enough")))
}

func TestRegisterWithoutDefaultRole(t *testing.T) {
	f := newFixture(t)
	deleted := time.Now()
	f.store.UpdateRole(f.customer.ID, func(r *rbac.Role) { r.DeletedAt = &deleted })

	res, err := f.service.Register(context.Background(), "new@parcelhub.test", "long-enough", auth.ClientMeta{})
	require.NoError(t, err)
	assert.Empty(t, res.User.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.putUser(t, "ops@parcelhub.test", "correct-horse", nil)

	_, err := f.service.Register(context.Background(), "OPS@parcelhub.test", "long-enough", auth.ClientMeta{})
	assert.ErrorIs(t, err, rbac.ErrDuplicate)
}

func TestRegisterPasswordOverBcryptLimitIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Register(context.Background(), "new@parcelhub.test", strings.Repeat("é", 40), auth.ClientMeta{})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
}

func TestRegisterReusesEmailOfDeletedUser(t *testing.T) {
	f := newFixture(t)
	old := f.putUser(t, "ops@parcelhub.test", "correct-horse", nil)
	deleted := time.Now()
	f.store.UpdateUser(old.ID, func(u *rbac.User) { u.DeletedAt = &deleted })

	res, err := f.service.Register(context.Background(), "ops@parcelhub.test", "long-enough", auth.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, res.User.ID)

	live, err := f.store.FindUserByEmail(context.Background(), "ops@parcelhub.test")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, live.ID)

	_, err = f.service.Login(context.Background(), "ops@parcelhub.test", "long-enough", auth.ClientMeta{})
	assert.NoError(t, err)
}

func TestSessionRecorderFailureDoesNotBlockLogin(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("queue down")
	f.putUser(t, "ops@parcelhub.test", "correct-horse", nil)

	res, err := f.service.Login(context.Background(), "ops@parcelhub.test", "correct-horse", auth.ClientMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}
