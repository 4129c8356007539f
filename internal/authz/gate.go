// Package authz implements the request gate: it verifies the bearer token,
// reloads the caller from the credential store, resolves current
// permissions and enforces the route requirement. The gate keeps no state
// between requests.
package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/shared"
	"github.com/parcelhub/parcelhub/internal/token"
)

// Requirement is the route-level declaration checked after identity.
// Roles lists acceptable role names; Permission names one permission that
// must be held. Both may be set; an empty Requirement only authenticates.
type Requirement struct {
	Roles      []string
	Permission string
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (token.Identity, error)
}

// PermissionSource returns the usable permissions granted to a role.
type PermissionSource interface {
	PermissionsForRole(ctx context.Context, roleID int64) ([]string, error)
}

// DecisionObserver is notified of every gate outcome.
type DecisionObserver interface {
	ObserveDecision(granted bool, kind string)
}

// Option customises a Gate.
type Option func(*Gate)

// WithLookupTimeout caps the time spent on credential lookups per request.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.lookupTimeout = d
	}
}

// WithObserver attaches a decision observer.
func WithObserver(o DecisionObserver) Option {
	return func(g *Gate) {
		g.observer = o
	}
}

// WithGateLogger attaches a logger used for rejection detail.
func WithGateLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// Gate authorizes single requests.
type Gate struct {
	tokens        TokenVerifier
	repo          rbac.CredentialRepository
	permissions   PermissionSource
	lookupTimeout time.Duration
	observer      DecisionObserver
	logger        *slog.Logger
}

// NewGate constructs a Gate.
func NewGate(tokens TokenVerifier, repo rbac.CredentialRepository, permissions PermissionSource, opts ...Option) *Gate {
	g := &Gate{tokens: tokens, repo: repo, permissions: permissions}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize runs the full protocol for one request. On success the returned
// principal reflects current grant state, not the token's role claims.
func (g *Gate) Authorize(ctx context.Context, rawToken string, req Requirement) (*shared.Principal, error) {
	principal, err := g.authorize(ctx, rawToken, req)
	if g.observer != nil {
		if err != nil {
			g.observer.ObserveDecision(false, string(KindOf(err)))
		} else {
			g.observer.ObserveDecision(true, "")
		}
	}
	return principal, err
}

func (g *Gate) authorize(ctx context.Context, rawToken string, req Requirement) (*shared.Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	ident, err := g.tokens.Verify(rawToken)
	if err != nil {
		return nil, tokenRejection(err)
	}

	if g.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.lookupTimeout)
		defer cancel()
	}

	user, err := g.repo.FindUserByID(ctx, ident.UserID)
	if err != nil {
		return nil, withUser(lookupRejection(ctx, err), ident.UserID)
	}
	if !user.Usable() {
		return nil, withUser(reject(KindUserInvalid, errors.New("user inactive or deleted")), user.ID)
	}

	principal := &shared.Principal{UserID: user.ID, Email: user.Email, Permissions: []string{}}
	var role *rbac.Role
	if user.HasRole() {
		r, err := g.repo.FindRoleByID(ctx, *user.RoleID)
		if err != nil {
			return nil, withUser(lookupRejection(ctx, err), user.ID)
		}
		if !r.Usable() {
			return nil, withUser(reject(KindUserInvalid, errors.New("role inactive or deleted")), user.ID)
		}
		role = &r
		principal.Role = r.Name
	}

	if len(req.Roles) > 0 && (role == nil || !containsRole(req.Roles, role.Name)) {
		return nil, withUser(reject(KindInsufficientRole, nil), user.ID)
	}

	if role != nil {
		perms, err := g.permissions.PermissionsForRole(ctx, role.ID)
		switch {
		case err == nil:
			principal.Permissions = perms
		case req.Permission != "":
			return nil, withUser(reject(KindAuthorizationUnavailable, err), user.ID)
		default:
			// The decision does not depend on grants; the principal holds none.
			if g.logger != nil {
				g.logger.Warn("authz permissions unavailable",
					slog.Int64("user_id", user.ID),
					slog.Int64("role_id", role.ID),
					slog.Any("error", err))
			}
		}
	}

	if req.Permission != "" && !principal.HasPermission(req.Permission) {
		return nil, withUser(reject(KindInsufficientPermission, nil), user.ID)
	}
	return principal, nil
}

func withUser(err error, userID int64) error {
	if e, ok := err.(*Error); ok {
		e.UserID = userID
	}
	return err
}

func tokenRejection(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return reject(KindExpiredToken, err)
	case errors.Is(err, token.ErrInvalidSignature):
		return reject(KindInvalidSignature, err)
	case errors.Is(err, token.ErrMissingSecret):
		return reject(KindAuthorizationUnavailable, err)
	default:
		return reject(KindMalformedToken, err)
	}
}

// lookupRejection separates "the caller is not valid" from "we could not
// find out". Only a clean not-found answer counts as the former.
func lookupRejection(ctx context.Context, err error) error {
	if errors.Is(err, rbac.ErrNotFound) && ctx.Err() == nil {
		return reject(KindUserInvalid, err)
	}
	return reject(KindAuthorizationUnavailable, err)
}

func containsRole(roles []string, name string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), name) {
			return true
		}
	}
	return false
}
