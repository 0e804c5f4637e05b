package access

import "farmcore/pkg/domain"

// Managed group names.
const (
	GroupAdministrators = "Farm Administrators"
	GroupManagers       = "Farm Managers"
	GroupStaff          = "Farm Staff"
	GroupWorkers        = "General Workers"
	GroupFarmWorkers    = "Farm Workers"
	GroupAccountants    = "Farm Accountants"
	GroupGuests         = "Guest Users"
)

var roleGroups = map[domain.Role]string{
	domain.RoleAdmin:          GroupAdministrators,
	domain.RoleManager:        GroupManagers,
	domain.RoleStaff:          GroupStaff,
	domain.RoleWorker:         GroupWorkers,
	domain.RoleFarmWorker:     GroupFarmWorkers,
	domain.RoleFarmAccountant: GroupAccountants,
	domain.RoleGuest:          GroupGuests,
}

// GroupFor returns the managed group for role.
func GroupFor(role domain.Role) (string, bool) {
	name, ok := roleGroups[role]
	return name, ok
}

// ManagedGroups lists every group the synchronizer owns, in role order.
func ManagedGroups() []string {
	out := make([]string, 0, len(roleGroups))
	for _, role := range domain.Roles() {
		out = append(out, roleGroups[role])
	}
	return out
}

// IsManaged reports whether name is one of the synchronizer's groups.
func IsManaged(name string) bool {
	for _, g := range roleGroups {
		if g == name {
			return true
		}
	}
	return false
}

// Privileged reports the elevated-privilege flag value for role.
func Privileged(role domain.Role) bool { return role == domain.RoleAdmin }
