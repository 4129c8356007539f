package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelhub/parcelhub/internal/platform/db"
)

// UserColumns is the column list scanned by ScanUser.
const UserColumns = `id, email, password_hash, role_id, is_active, deleted_at, created_at, updated_at`

const (
	roleColumns       = `id, name, description, is_active, deleted_at, created_at, updated_at`
	permissionColumns = `id, name, resource, action, description, is_active, deleted_at`
)

// PGRepository implements Store using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Pool exposes the underlying pool to repositories layered on top.
func (r *PGRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// ScanUser reads a row selected with UserColumns.
func ScanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleID, &u.IsActive, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsActive, &role.DeletedAt, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, mapError(err)
	}
	return role, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.IsActive, &p.DeletedAt); err != nil {
		return Permission{}, mapError(err)
	}
	return p, nil
}

// FindUserByID fetches a user by id.
func (r *PGRepository) FindUserByID(ctx context.Context, id int64, opts ...LookupOption) (User, error) {
	o := ApplyLookupOptions(opts...)
	row := r.pool.QueryRow(ctx, `SELECT `+UserColumns+` FROM users WHERE id = $1 AND ($2 OR deleted_at IS NULL)`, id, o.IncludeDeleted)
	return ScanUser(row)
}

// FindUserByEmail fetches a user by email, case-insensitively.
func (r *PGRepository) FindUserByEmail(ctx context.Context, email string, opts ...LookupOption) (User, error) {
	o := ApplyLookupOptions(opts...)
	row := r.pool.QueryRow(ctx, `SELECT `+UserColumns+` FROM users WHERE lower(email) = lower($1) AND ($2 OR deleted_at IS NULL)
		ORDER BY deleted_at NULLS FIRST LIMIT 1`, strings.TrimSpace(email), o.IncludeDeleted)
	return ScanUser(row)
}

// FindRoleByID fetches a role by id.
func (r *PGRepository) FindRoleByID(ctx context.Context, id int64, opts ...LookupOption) (Role, error) {
	o := ApplyLookupOptions(opts...)
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND ($2 OR deleted_at IS NULL)`, id, o.IncludeDeleted)
	return scanRole(row)
}

// FindRoleByName fetches a non-deleted role by name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND deleted_at IS NULL`, name)
	return scanRole(row)
}

// FindGrantsByRole lists the raw grant rows of a role.
func (r *PGRepository) FindGrantsByRole(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id, permission_id, created_at FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.RoleID, &g.PermissionID, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// FindPermissionByID fetches a permission by id.
func (r *PGRepository) FindPermissionByID(ctx context.Context, id int64, opts ...LookupOption) (Permission, error) {
	o := ApplyLookupOptions(opts...)
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND ($2 OR deleted_at IS NULL)`, id, o.IncludeDeleted)
	return scanPermission(row)
}

// FindPermissionsByIDs fetches the permissions with the given ids in one query.
func (r *PGRepository) FindPermissionsByIDs(ctx context.Context, ids []int64, opts ...LookupOption) ([]Permission, error) {
	if len(ids) == 0 {
		return []Permission{}, nil
	}
	o := ApplyLookupOptions(opts...)
	return r.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) AND ($2 OR deleted_at IS NULL) ORDER BY name`, ids, o.IncludeDeleted)
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context, opts ...LookupOption) ([]Permission, error) {
	o := ApplyLookupOptions(opts...)
	return r.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE ($1 OR deleted_at IS NULL) ORDER BY name`, o.IncludeDeleted)
}

func (r *PGRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context, opts ...LookupOption) ([]Role, error) {
	o := ApplyLookupOptions(opts...)
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE ($1 OR deleted_at IS NULL) ORDER BY name`, o.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole inserts a new active role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description, is_active) VALUES ($1, $2, TRUE) RETURNING `+roleColumns, name, description)
	return scanRole(row)
}

// SetRoleActive flips the active flag of a non-deleted role.
func (r *PGRepository) SetRoleActive(ctx context.Context, id int64, active bool) (Role, error) {
	row := r.pool.QueryRow(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL RETURNING `+roleColumns, id, active)
	return scanRole(row)
}

// SoftDeleteRole stamps deleted_at on a role.
func (r *PGRepository) SoftDeleteRole(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET deleted_at = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRoleGrants swaps the grant set of a role inside one transaction.
func (r *PGRepository) ReplaceRoleGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if permissionIDs == nil {
		// A nil slice encodes as NULL and would match nothing below.
		permissionIDs = []int64{}
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND NOT (permission_id = ANY($2))`, roleID, permissionIDs); err != nil {
			return mapError(err)
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, unnest($2::bigint[]) ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionIDs)
		return mapError(err)
	})
}

// CreatePermission inserts a permission.
func (r *PGRepository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, resource, action, description, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING `+permissionColumns,
		p.Name, p.Resource, p.Action, p.Description, p.IsActive)
	return scanPermission(row)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

// MapError translates pgx errors into rbac sentinels.
func MapError(err error) error {
	return mapError(err)
}

var _ Store = (*PGRepository)(nil)
