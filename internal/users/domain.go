package users

import (
	"time"

	"github.com/parcelhub/parcelhub/internal/rbac"
)

// Account is the administrative view of a user. The password hash never
// leaves the service.
type Account struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	RoleID    *int64     `json:"role_id"`
	IsActive  bool       `json:"is_active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toAccount(u rbac.User) Account {
	return Account{
		ID:        u.ID,
		Email:     u.Email,
		RoleID:    u.RoleID,
		IsActive:  u.IsActive,
		DeletedAt: u.DeletedAt,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
