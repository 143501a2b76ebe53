package rbac

// Role constants
const (
	RoleTenant = "tenant"
	RoleHunter = "hunter"
	RoleAdmin  = "admin"
)

// Permission constants
const (
	PermCreateEngagement = "create_engagement"
	PermNegotiate        = "negotiate"
	PermCreateSearchJob  = "create_search_job"
	PermManageSearchJob  = "manage_search_job"
	PermBid              = "bid"
	PermDeliver          = "deliver"
	PermViewEscrow       = "view_escrow"
	PermArbitrate        = "arbitrate"
)

// RolePermissions defines what each role can do. Ownership of the specific
// engagement or job is checked by the services.
var RolePermissions = map[string][]string{
	RoleTenant: {
		PermCreateEngagement, PermNegotiate, PermCreateSearchJob, PermManageSearchJob, PermViewEscrow,
	},
	RoleHunter: {
		PermNegotiate, PermBid, PermDeliver, PermViewEscrow,
	},
	RoleAdmin: {
		PermViewEscrow, PermArbitrate,
		// Admin CANNOT negotiate or bid on behalf of a party.
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether permission can move escrowed money
// outside the parties' own agreement.
func IsFinancialOperation(permission string) bool {
	return permission == PermArbitrate
}
