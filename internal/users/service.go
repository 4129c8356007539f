package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, opts ...rbac.LookupOption) ([]rbac.User, error)
	FindRoleByID(ctx context.Context, id int64, opts ...rbac.LookupOption) (rbac.Role, error)
	SetUserRole(ctx context.Context, id int64, roleID *int64) (rbac.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) (rbac.User, error)
	SoftDeleteUser(ctx context.Context, id int64, at time.Time) error
}

// Service handles user administration. Changes take effect on the user's
// next request because the gate reloads the account every time.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context, includeDeleted bool) ([]Account, error) {
	var opts []rbac.LookupOption
	if includeDeleted {
		opts = append(opts, rbac.WithDeleted())
	}
	list, err := s.repo.ListUsers(ctx, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(list))
	for _, u := range list {
		out = append(out, toAccount(u))
	}
	return out, nil
}

// AssignRole sets or clears the role of a user. The role must exist and not
// be deleted.
func (s *Service) AssignRole(ctx context.Context, actorID, userID int64, roleID *int64) (Account, error) {
	if roleID != nil {
		if _, err := s.repo.FindRoleByID(ctx, *roleID); err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				return Account{}, fmt.Errorf("%w: unknown role %d", rbac.ErrInvalidInput, *roleID)
			}
			return Account{}, err
		}
	}
	u, err := s.repo.SetUserRole(ctx, userID, roleID)
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, shared.AuditUserRoleAssigned, userID, map[string]any{"role_id": roleID})
	return toAccount(u), nil
}

// SetActive activates or deactivates a user. Admins cannot lock themselves out.
func (s *Service) SetActive(ctx context.Context, actorID, userID int64, active bool) (Account, error) {
	if !active && actorID == userID {
		return Account{}, fmt.Errorf("%w: cannot deactivate yourself", rbac.ErrInvalidInput)
	}
	u, err := s.repo.SetUserActive(ctx, userID, active)
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, shared.AuditUserStatusChanged, userID, map[string]any{"active": active})
	return toAccount(u), nil
}

// Delete soft-deletes a user. Outstanding tokens stop working on next use.
func (s *Service) Delete(ctx context.Context, actorID, userID int64) error {
	if actorID == userID {
		return fmt.Errorf("%w: cannot delete yourself", rbac.ErrInvalidInput)
	}
	if err := s.repo.SoftDeleteUser(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditUserDeleted, userID, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("users audit", slog.String("action", action), slog.Any("error", err))
	}
}
