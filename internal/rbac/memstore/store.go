// Package memstore is an in-memory implementation of the rbac and users
// stores, used by tests and local tooling.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parcelhub/parcelhub/internal/rbac"
)

// Store keeps users, roles, permissions and grants in maps.
type Store struct {
	mu sync.RWMutex

	users       map[int64]rbac.User
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	grants      []rbac.RoleGrant
	nextID      int64

	failWith error
	block    bool
	calls    int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[int64]rbac.User),
		roles:       make(map[int64]rbac.Role),
		permissions: make(map[int64]rbac.Permission),
	}
}

// FailWith makes every subsequent call return err. Pass nil to reset.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// BlockUntilDone makes every call wait for its context to end.
func (s *Store) BlockUntilDone(block bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = block
}

// Calls returns the number of store calls served so far.
func (s *Store) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// PutUser inserts or replaces a user, assigning an id when zero.
func (s *Store) PutUser(u rbac.User) rbac.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users[u.ID] = u
	return u
}

// PutRole inserts or replaces a role, assigning an id when zero.
func (s *Store) PutRole(r rbac.Role) rbac.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.id()
	}
	s.roles[r.ID] = r
	return r
}

// PutPermission inserts or replaces a permission, assigning an id when zero.
func (s *Store) PutPermission(p rbac.Permission) rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.permissions[p.ID] = p
	return p
}

// Grant appends a raw grant row. Duplicates are kept to model data anomalies.
func (s *Store) Grant(roleID, permissionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, rbac.RoleGrant{RoleID: roleID, PermissionID: permissionID, CreatedAt: time.Now().UTC()})
}

// UpdateUser applies fn to a stored user.
func (s *Store) UpdateUser(id int64, fn func(*rbac.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		fn(&u)
		s.users[id] = u
	}
}

// UpdateRole applies fn to a stored role.
func (s *Store) UpdateRole(id int64, fn func(*rbac.Role)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok {
		fn(&r)
		s.roles[id] = r
	}
}

// UpdatePermission applies fn to a stored permission.
func (s *Store) UpdatePermission(id int64, fn func(*rbac.Permission)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.permissions[id]; ok {
		fn(&p)
		s.permissions[id] = p
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) enter(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	failWith, block := s.failWith, s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if failWith != nil {
		return failWith
	}
	return ctx.Err()
}

func visible(l rbac.Lifecycle, opts []rbac.LookupOption) bool {
	return l.DeletedAt == nil || rbac.ApplyLookupOptions(opts...).IncludeDeleted
}

// FindUserByID implements rbac.CredentialRepository.
func (s *Store) FindUserByID(ctx context.Context, id int64, opts ...rbac.LookupOption) (rbac.User, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !visible(u.Lifecycle, opts) {
		return rbac.User{}, rbac.ErrNotFound
	}
	return u, nil
}

// FindUserByEmail implements rbac.CredentialRepository.
func (s *Store) FindUserByEmail(ctx context.Context, email string, opts ...rbac.LookupOption) (rbac.User, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email && visible(u.Lifecycle, opts) {
			return u, nil
		}
	}
	return rbac.User{}, rbac.ErrNotFound
}

// FindRoleByID implements rbac.CredentialRepository.
func (s *Store) FindRoleByID(ctx context.Context, id int64, opts ...rbac.LookupOption) (rbac.Role, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Role{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok || !visible(r.Lifecycle, opts) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return r, nil
}

// FindGrantsByRole implements rbac.CredentialRepository.
func (s *Store) FindGrantsByRole(ctx context.Context, roleID int64) ([]rbac.RoleGrant, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.RoleGrant
	for _, g := range s.grants {
		if g.RoleID == roleID {
			out = append(out, g)
		}
	}
	return out, nil
}

// FindPermissionByID implements rbac.CredentialRepository.
func (s *Store) FindPermissionByID(ctx context.Context, id int64, opts ...rbac.LookupOption) (rbac.Permission, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Permission{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok || !visible(p.Lifecycle, opts) {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return p, nil
}

// FindPermissionsByIDs implements rbac.CredentialRepository.
func (s *Store) FindPermissionsByIDs(ctx context.Context, ids []int64, opts ...rbac.LookupOption) ([]rbac.Permission, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := s.permissions[id]; ok && visible(p.Lifecycle, opts) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListRoles implements rbac.Store.
func (s *Store) ListRoles(ctx context.Context, opts ...rbac.LookupOption) ([]rbac.Role, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if visible(r.Lifecycle, opts) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindRoleByName implements rbac.Store.
func (s *Store) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Role{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name && r.DeletedAt == nil {
			return r, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

// CreateRole implements rbac.Store.
func (s *Store) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return rbac.Role{}, fmt.Errorf("%w: role %q", rbac.ErrDuplicate, name)
		}
	}
	now := time.Now().UTC()
	r := rbac.Role{ID: s.id(), Name: name, Description: description, Lifecycle: rbac.Lifecycle{IsActive: true}, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	return r, nil
}

// SetRoleActive implements rbac.Store.
func (s *Store) SetRoleActive(ctx context.Context, id int64, active bool) (rbac.Role, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok || r.DeletedAt != nil {
		return rbac.Role{}, rbac.ErrNotFound
	}
	r.IsActive = active
	r.UpdatedAt = time.Now().UTC()
	s.roles[id] = r
	return r, nil
}

// SoftDeleteRole implements rbac.Store.
func (s *Store) SoftDeleteRole(ctx context.Context, id int64, at time.Time) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok || r.DeletedAt != nil {
		return rbac.ErrNotFound
	}
	r.DeletedAt = &at
	s.roles[id] = r
	return nil
}

// ReplaceRoleGrants implements rbac.Store.
func (s *Store) ReplaceRoleGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.grants[:0]
	for _, g := range s.grants {
		if g.RoleID != roleID {
			kept = append(kept, g)
		}
	}
	s.grants = kept
	now := time.Now().UTC()
	for _, id := range permissionIDs {
		s.grants = append(s.grants, rbac.RoleGrant{RoleID: roleID, PermissionID: id, CreatedAt: now})
	}
	return nil
}

// ListPermissions implements rbac.Store.
func (s *Store) ListPermissions(ctx context.Context, opts ...rbac.LookupOption) ([]rbac.Permission, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if visible(p.Lifecycle, opts) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreatePermission implements rbac.Store.
func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.Name == p.Name {
			return rbac.Permission{}, fmt.Errorf("%w: permission %q", rbac.ErrDuplicate, p.Name)
		}
	}
	p.ID = s.id()
	s.permissions[p.ID] = p
	return p, nil
}

// ListUsers returns users ordered by id.
func (s *Store) ListUsers(ctx context.Context, opts ...rbac.LookupOption) ([]rbac.User, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.User, 0, len(s.users))
	for _, u := range s.users {
		if visible(u.Lifecycle, opts) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateUser inserts an active user.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, roleID *int64) (rbac.User, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		// Live emails are unique; soft-deleted rows may share one.
		if u.Email == email && !u.Deleted() {
			return rbac.User{}, fmt.Errorf("%w: email", rbac.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	u := rbac.User{ID: s.id(), Email: email, PasswordHash: passwordHash, RoleID: roleID, Lifecycle: rbac.Lifecycle{IsActive: true}, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	return u, nil
}

// SetUserRole points a user at roleID, or clears it when nil.
func (s *Store) SetUserRole(ctx context.Context, id int64, roleID *int64) (rbac.User, error) {
	return s.mutateUser(ctx, id, func(u *rbac.User) { u.RoleID = roleID })
}

// SetUserActive flips the active flag of a user.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) (rbac.User, error) {
	return s.mutateUser(ctx, id, func(u *rbac.User) { u.IsActive = active })
}

// SoftDeleteUser stamps the soft-delete marker.
func (s *Store) SoftDeleteUser(ctx context.Context, id int64, at time.Time) error {
	_, err := s.mutateUser(ctx, id, func(u *rbac.User) { u.DeletedAt = &at })
	return err
}

func (s *Store) mutateUser(ctx context.Context, id int64, fn func(*rbac.User)) (rbac.User, error) {
	if err := s.enter(ctx); err != nil {
		return rbac.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return rbac.User{}, rbac.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

var _ rbac.Store = (*Store)(nil)
