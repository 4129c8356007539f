package users

import (
	"context"
	"time"

	"github.com/parcelhub/parcelhub/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	*rbac.PGRepository
}

// NewRepository constructs a repository over the credential store.
func NewRepository(creds *rbac.PGRepository) *Repository {
	return &Repository{PGRepository: creds}
}

// ListUsers returns users ordered by id.
func (r *Repository) ListUsers(ctx context.Context, opts ...rbac.LookupOption) ([]rbac.User, error) {
	o := rbac.ApplyLookupOptions(opts...)
	rows, err := r.Pool().Query(ctx, `SELECT `+rbac.UserColumns+` FROM users WHERE ($1 OR deleted_at IS NULL) ORDER BY id`, o.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []rbac.User{}
	for rows.Next() {
		u, err := rbac.ScanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserRole points a user at roleID, or clears it when nil.
func (r *Repository) SetUserRole(ctx context.Context, id int64, roleID *int64) (rbac.User, error) {
	row := r.Pool().QueryRow(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL RETURNING `+rbac.UserColumns, id, roleID)
	return rbac.ScanUser(row)
}

// SetUserActive flips the active flag of a user.
func (r *Repository) SetUserActive(ctx context.Context, id int64, active bool) (rbac.User, error) {
	row := r.Pool().QueryRow(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL RETURNING `+rbac.UserColumns, id, active)
	return rbac.ScanUser(row)
}

// SoftDeleteUser stamps deleted_at on a user.
func (r *Repository) SoftDeleteUser(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.Pool().Exec(ctx, `UPDATE users SET deleted_at = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return rbac.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
