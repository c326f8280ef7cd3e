package rbac

// Role names carried in access tokens.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
	RoleService    = "service" // automation clients feeding campaigns
)

// Permission is a capability checked by route middleware.
type Permission string

const (
	PermCallControl Permission = "calls:control" // act on calls the caller holds
	PermSupervise   Permission = "calls:supervise"
	PermCampaigns   Permission = "campaigns:manage"
	PermReports     Permission = "reports:read"
)

var grants = map[string][]Permission{
	RoleOwner:      {PermCallControl, PermSupervise, PermCampaigns, PermReports},
	RoleSupervisor: {PermCallControl, PermSupervise, PermCampaigns, PermReports},
	RoleAgent:      {PermCallControl},
	RoleService:    {PermCampaigns},
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Can reports whether role holds p. super_admin holds everything; unknown roles nothing.
func Can(role string, p Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	for _, g := range grants[role] {
		if g == p {
			return true
		}
	}
	return false
}

// CanSupervise reports whether role may act on calls and agents other than its own.
func CanSupervise(role string) bool { return Can(role, PermSupervise) }
