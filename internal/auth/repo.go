package auth

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/parcelhub/parcelhub/internal/rbac"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindUserByEmail(ctx context.Context, email string, opts ...rbac.LookupOption) (rbac.User, error)
	FindRoleByID(ctx context.Context, id int64, opts ...rbac.LookupOption) (rbac.Role, error)
	FindRoleByName(ctx context.Context, name string) (rbac.Role, error)
	CreateUser(ctx context.Context, email, passwordHash string, roleID *int64) (rbac.User, error)
}

// SessionStore persists session audit rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// PGRepository implements Repository and SessionStore on top of the RBAC
// credential repository.
type PGRepository struct {
	*rbac.PGRepository
}

// NewRepository wraps the credential repository.
func NewRepository(creds *rbac.PGRepository) *PGRepository {
	return &PGRepository{PGRepository: creds}
}

// CreateUser inserts an active user.
func (r *PGRepository) CreateUser(ctx context.Context, email, passwordHash string, roleID *int64) (rbac.User, error) {
	row := r.Pool().QueryRow(ctx, `INSERT INTO users (email, password_hash, role_id, is_active)
		VALUES ($1, $2, $3, TRUE) RETURNING `+rbac.UserColumns, strings.TrimSpace(email), passwordHash, roleID)
	return rbac.ScanUser(row)
}

// CreateSession stores a session audit row. Replayed jobs are ignored.
func (r *PGRepository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.Pool().Exec(ctx, `INSERT INTO auth_sessions (id, user_id, issued_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		s.ID, s.UserID,
		pgtype.Timestamptz{Time: s.IssuedAt.UTC(), Valid: true},
		pgtype.Timestamptz{Time: s.ExpiresAt.UTC(), Valid: true},
		pgtype.Text{String: s.IP, Valid: s.IP != ""},
		pgtype.Text{String: s.UserAgent, Valid: s.UserAgent != ""},
	)
	return rbac.MapError(err)
}

// PurgeSessions removes audit rows that expired before the cutoff.
func (r *PGRepository) PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error) {
	tag, err := r.Pool().Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, expiredBefore.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ SessionStore = (*PGRepository)(nil)
)
