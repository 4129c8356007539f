package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Resolver computes the effective permission set of a user from current
// grant state. Nothing is taken from token claims.
type Resolver struct {
	repo   CredentialRepository
	cache  *Cache
	logger *slog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the bounded permission cache.
func WithCache(cache *Cache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver constructs a Resolver over the repository.
func NewResolver(repo CredentialRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{repo: repo}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the sorted, deduplicated permission names granted to the
// user through their role. A missing or unusable role yields an empty set.
func (r *Resolver) Resolve(ctx context.Context, userID int64) ([]string, error) {
	user, err := r.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserUnavailable
		}
		return nil, fmt.Errorf("rbac: load user %d: %w", userID, err)
	}
	if !user.Usable() {
		return nil, ErrUserUnavailable
	}
	if !user.HasRole() {
		return []string{}, nil
	}
	role, err := r.repo.FindRoleByID(ctx, *user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("rbac: load role %d: %w", *user.RoleID, err)
	}
	if !role.Usable() {
		return []string{}, nil
	}
	return r.PermissionsForRole(ctx, role.ID)
}

// PermissionsForRole returns the usable permission names granted to roleID.
// Callers are expected to have checked that the role itself is usable.
func (r *Resolver) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	if r.cache.Enabled() {
		return r.cache.Fetch(ctx, roleID, r.loadRolePermissions)
	}
	return r.loadRolePermissions(ctx, roleID)
}

func (r *Resolver) loadRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	grants, err := r.repo.FindGrantsByRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load grants for role %d: %w", roleID, err)
	}
	ids := GrantedPermissionIDs(roleID, grants)
	if len(ids) == 0 {
		return []string{}, nil
	}
	perms, err := r.repo.FindPermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rbac: load permissions for role %d: %w", roleID, err)
	}
	names := CollectPermissions(roleID, grants, perms)
	if r.logger != nil && len(names) < len(grants) {
		r.logger.Debug("rbac grants filtered",
			slog.Int64("role_id", roleID),
			slog.Int("grants", len(grants)),
			slog.Int("permissions", len(names)))
	}
	return names, nil
}

// GrantedPermissionIDs returns the distinct permission ids granted to roleID.
func GrantedPermissionIDs(roleID int64, grants []RoleGrant) []int64 {
	seen := make(map[int64]struct{}, len(grants))
	ids := make([]int64, 0, len(grants))
	for _, g := range grants {
		if g.RoleID != roleID {
			continue
		}
		if _, ok := seen[g.PermissionID]; ok {
			continue
		}
		seen[g.PermissionID] = struct{}{}
		ids = append(ids, g.PermissionID)
	}
	return ids
}

// CollectPermissions joins grants of roleID with perms and returns the
// sorted, deduplicated names of usable permissions. It performs no I/O.
func CollectPermissions(roleID int64, grants []RoleGrant, perms []Permission) []string {
	byID := make(map[int64]Permission, len(perms))
	for _, p := range perms {
		byID[p.ID] = p
	}
	set := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if g.RoleID != roleID {
			continue
		}
		p, ok := byID[g.PermissionID]
		if !ok || !p.Usable() || p.Name == "" {
			continue
		}
		set[p.Name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
