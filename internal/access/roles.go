// Package access keeps group memberships and privilege flags derived from a
// user's single authoritative role, and answers permission questions.
package access

import (
	"strings"

	"farmcore/pkg/domain"
)

// ParseRole validates a raw role value against the closed set.
func ParseRole(raw string) (domain.Role, error) {
	role := domain.Role(strings.TrimSpace(raw))
	if !role.Valid() {
		return "", &InvalidRoleError{Value: raw}
	}
	return role, nil
}

// RoleMachine governs role assignment. Any valid role may follow any other.
type RoleMachine struct{}

// Validate rejects roles outside the closed set.
func (RoleMachine) Validate(requested domain.Role) error {
	if !requested.Valid() {
		return &InvalidRoleError{Value: string(requested)}
	}
	return nil
}

// Initial returns the role given to a new account. The first account in an
// empty system becomes admin.
func (RoleMachine) Initial(isFirst bool) domain.Role {
	if isFirst {
		return domain.RoleAdmin
	}
	return domain.RoleGuest
}

// Transition validates a change from one role to another.
func (m RoleMachine) Transition(_ domain.Role, to domain.Role) error {
	return m.Validate(to)
}
