package roles

import "github.com/parcelhub/parcelhub/internal/rbac"

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64,excludes=:"`
	Description string `json:"description" validate:"max=255"`
}

type grantsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// RoleDetail is a role with its current grants.
type RoleDetail struct {
	rbac.Role
	Permissions []rbac.Permission `json:"permissions"`
}
