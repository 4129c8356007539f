package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parcelhub/parcelhub/internal/shared"
)

// Store is the persistence surface used by the administration service.
type Store interface {
	CredentialRepository
	ListRoles(ctx context.Context, opts ...LookupOption) ([]Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	SetRoleActive(ctx context.Context, id int64, active bool) (Role, error)
	SoftDeleteRole(ctx context.Context, id int64, at time.Time) error
	ReplaceRoleGrants(ctx context.Context, roleID int64, permissionIDs []int64) error
	ListPermissions(ctx context.Context, opts ...LookupOption) ([]Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
}

// RoleDetail is a role with the permissions currently granted to it.
type RoleDetail struct {
	Role        Role
	Permissions []Permission
}

// Service orchestrates RBAC administration. Every mutation invalidates the
// permission cache and is written to the audit log.
type Service struct {
	store  Store
	cache  *Cache
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, cache *Cache, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{store: store, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// NormalizeName trims and lower-cases role and permission names.
func NormalizeName(name string) string {
	// Casers are stateful; one per call.
	return cases.Lower(language.Und).String(strings.TrimSpace(name))
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context, includeDeleted bool) ([]Role, error) {
	var opts []LookupOption
	if includeDeleted {
		opts = append(opts, WithDeleted())
	}
	return s.store.ListRoles(ctx, opts...)
}

// GetRole fetches a role together with its granted permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	var (
		role   Role
		grants []RoleGrant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		role, err = s.store.FindRoleByID(gctx, id, WithDeleted())
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = s.store.FindGrantsByRole(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return RoleDetail{}, err
	}
	detail := RoleDetail{Role: role, Permissions: []Permission{}}
	ids := GrantedPermissionIDs(id, grants)
	if len(ids) == 0 {
		return detail, nil
	}
	perms, err := s.store.FindPermissionsByIDs(ctx, ids, WithDeleted())
	if err != nil {
		return RoleDetail{}, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	detail.Permissions = perms
	return detail, nil
}

// FindRoleByName looks up a role by its unique name.
func (s *Service) FindRoleByName(ctx context.Context, name string) (Role, error) {
	return s.store.FindRoleByName(ctx, NormalizeName(name))
}

// CreateRole inserts a new active role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string) (Role, error) {
	name = NormalizeName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditRoleCreated, "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// SetRoleActive activates or deactivates a role.
func (s *Service) SetRoleActive(ctx context.Context, actorID, id int64, active bool) (Role, error) {
	role, err := s.store.SetRoleActive(ctx, id, active)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, actorID, shared.AuditRoleStatusChanged, "role", id, map[string]any{"active": active})
	return role, nil
}

// DeleteRole soft-deletes a role. Users keep the reference but the role
// stops granting anything.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	if err := s.store.SoftDeleteRole(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actorID, shared.AuditRoleDeleted, "role", id, nil)
	return nil
}

// SetRolePermissions replaces the grants of a role.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	if _, err := s.store.FindRoleByID(ctx, roleID); err != nil {
		return err
	}
	ids := uniqueIDs(permissionIDs)
	if len(ids) > 0 {
		perms, err := s.store.FindPermissionsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(perms) != len(ids) {
			return fmt.Errorf("%w: unknown permission in grant set", ErrInvalidInput)
		}
	}
	if err := s.store.ReplaceRoleGrants(ctx, roleID, ids); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actorID, shared.AuditRoleGrantsReplaced, "role", roleID, map[string]any{"permission_ids": ids})
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreatePermission registers a resource/action capability. The name is
// derived as "resource:action".
func (s *Service) CreatePermission(ctx context.Context, actorID int64, resource, action, description string) (Permission, error) {
	resource = NormalizeName(resource)
	action = NormalizeName(action)
	if resource == "" || action == "" || strings.Contains(resource, ":") || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: resource and action required", ErrInvalidInput)
	}
	perm, err := s.store.CreatePermission(ctx, Permission{
		Name:        resource + ":" + action,
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
		Lifecycle:   Lifecycle{IsActive: true},
	})
	if err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, actorID, shared.AuditPermissionCreated, "permission", perm.ID, map[string]any{"name": perm.Name})
	return perm, nil
}

// Invalidate drops every cached permission set.
func (s *Service) Invalidate(ctx context.Context) {
	s.invalidate(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Error("rbac cache bump", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("rbac audit", slog.String("action", action), slog.Any("error", err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
