package auth

import "slices"

// Back-office roles carried in admin tokens. A viewer can audit balances, an
// admin runs the event book and a superadmin may also mint chips.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AllAdminRoles lists every role an admin token may carry. Ledger reads such
// as reconciliation are open to all of them.
func AllAdminRoles() []string {
	return []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
}

// WriteRoles may create events and settle them.
func WriteRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}

// ChipCreditRoles may credit chips to a player without a payment.
func ChipCreditRoles() []string {
	return []string{RoleSuperAdmin}
}

// IsAdminRole reports whether role is a known back-office role.
func IsAdminRole(role string) bool {
	return slices.Contains(AllAdminRoles(), role)
}
