package shared

// Core platform permissions.
const (
	PermUsersView = "users:view"
	PermUsersEdit = "users:edit"

	PermRolesView = "roles:view"
	PermRolesEdit = "roles:edit"

	PermPermissionsView = "permissions:view"
	PermPermissionsEdit = "permissions:edit"
)

// Shipment permissions consumed by the surrounding shipping routes.
const (
	PermShipmentRead  = "shipment:read"
	PermShipmentWrite = "shipment:write"
)

// Built-in role names.
const (
	RoleAdmin    = "admin"
	RoleGuest    = "guest"
	RoleCustomer = "customer"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
	}
}

// ShipmentScopes lists the shipment permissions.
func ShipmentScopes() []string {
	return []string{PermShipmentRead, PermShipmentWrite}
}
