package rbac

import (
	"context"
	"time"
)

// Lifecycle carries the two independently mutable flags shared by users,
// roles and permissions.
type Lifecycle struct {
	IsActive  bool       `json:"is_active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Usable reports whether the record is active and not soft-deleted.
func (l Lifecycle) Usable() bool {
	return l.IsActive && l.DeletedAt == nil
}

// Deleted reports whether the record carries a soft-delete marker.
func (l Lifecycle) Deleted() bool {
	return l.DeletedAt != nil
}

// User is an identity record.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	RoleID       *int64 `json:"role_id"`
	Lifecycle
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the user references a role.
func (u User) HasRole() bool {
	return u.RoleID != nil
}

// Role represents a named capability bucket.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Lifecycle
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Lifecycle
}

// RoleGrant ties a permission to a role.
type RoleGrant struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// LookupOptions tunes repository reads.
type LookupOptions struct {
	IncludeDeleted bool
}

// LookupOption mutates LookupOptions.
type LookupOption func(*LookupOptions)

// WithDeleted makes a lookup return soft-deleted rows as well.
func WithDeleted() LookupOption {
	return func(o *LookupOptions) {
		o.IncludeDeleted = true
	}
}

// ApplyLookupOptions folds opts into a LookupOptions value.
func ApplyLookupOptions(opts ...LookupOption) LookupOptions {
	var o LookupOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// CredentialRepository is the read contract the authorization core needs
// from persisted users, roles, permissions and grants. Absent rows are
// reported as ErrNotFound; soft-deleted rows count as absent unless
// WithDeleted is passed.
type CredentialRepository interface {
	FindUserByID(ctx context.Context, id int64, opts ...LookupOption) (User, error)
	FindUserByEmail(ctx context.Context, email string, opts ...LookupOption) (User, error)
	FindRoleByID(ctx context.Context, id int64, opts ...LookupOption) (Role, error)
	FindGrantsByRole(ctx context.Context, roleID int64) ([]RoleGrant, error)
	FindPermissionByID(ctx context.Context, id int64, opts ...LookupOption) (Permission, error)
	FindPermissionsByIDs(ctx context.Context, ids []int64, opts ...LookupOption) ([]Permission, error)
}
