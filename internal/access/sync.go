package access

import (
	"fmt"

	"farmcore/pkg/domain"
)

// Outcome describes what a sync changed.
type Outcome struct {
	Group        string
	Removed      int
	Added        bool
	GroupCreated bool
	FlagsChanged bool
}

// Changed reports whether the sync wrote anything.
func (o Outcome) Changed() bool {
	return o.Removed > 0 || o.Added || o.GroupCreated || o.FlagsChanged
}

// Synchronizer recomputes a user's managed memberships and privilege flags
// from the role. It runs inside the caller's transaction so the role write
// and its derived state commit together.
type Synchronizer struct{}

// Apply makes memberships and flags equal f(role). Unmanaged groups are left
// alone. Running it twice yields an unchanged second Outcome.
func (Synchronizer) Apply(tx domain.Transaction, userID string, role domain.Role) (Outcome, error) {
	var out Outcome
	target, ok := GroupFor(role)
	if !ok {
		return out, &InvalidRoleError{Value: string(role)}
	}
	user, ok := tx.FindUser(userID)
	if !ok {
		return out, fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	out.Group = target

	// Leave every managed group except the target. Keeping an existing target
	// link is indistinguishable from remove-then-add inside one transaction.
	var stale []string
	for _, name := range ManagedGroups() {
		if name == target {
			continue
		}
		if g, exists := tx.FindGroupByName(name); exists {
			stale = append(stale, g.ID)
		}
	}
	removed, err := tx.RemoveMemberships(userID, stale)
	if err != nil {
		return out, fmt.Errorf("remove managed memberships: %w", err)
	}
	out.Removed = removed

	group, created, err := tx.EnsureGroup(target)
	if err != nil {
		return out, fmt.Errorf("ensure group %s: %w", target, err)
	}
	out.GroupCreated = created
	added, err := tx.AddMembership(userID, group.ID)
	if err != nil {
		return out, fmt.Errorf("add membership %s: %w", target, err)
	}
	out.Added = added

	privileged := Privileged(role)
	if user.IsStaff != privileged || user.IsSuperuser != privileged {
		if err := tx.SetPrivilegeFlags(userID, privileged, privileged); err != nil {
			return out, fmt.Errorf("set privilege flags: %w", err)
		}
		out.FlagsChanged = true
	}
	return out, nil
}

// EnsureGroups creates any missing managed group and returns the names created.
func (Synchronizer) EnsureGroups(tx domain.Transaction) ([]string, error) {
	var created []string
	for _, name := range ManagedGroups() {
		_, isNew, err := tx.EnsureGroup(name)
		if err != nil {
			return created, fmt.Errorf("ensure group %s: %w", name, err)
		}
		if isNew {
			created = append(created, name)
		}
	}
	return created, nil
}

// Consistent reports whether the user's observed state equals f(role).
func Consistent(user domain.User, role domain.Role, groups []domain.Group) bool {
	target, ok := GroupFor(role)
	if !ok {
		return false
	}
	privileged := Privileged(role)
	if user.IsStaff != privileged || user.IsSuperuser != privileged {
		return false
	}
	found := false
	for _, g := range groups {
		if !IsManaged(g.Name) {
			continue
		}
		if g.Name != target {
			return false
		}
		found = true
	}
	return found
}
