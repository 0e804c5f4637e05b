package access

import (
	"fmt"

	"farmcore/pkg/domain"
)

// Operation names a protected action.
type Operation string

// Protected operations.
const (
	OpAnimalRead        Operation = "animal.read"
	OpAnimalCreate      Operation = "animal.create"
	OpAnimalUpdate      Operation = "animal.update"
	OpAnimalDelete      Operation = "animal.delete"
	OpAnimalPayloadRead Operation = "animal.payload.read"
	OpReportView        Operation = "report.view"
	OpDataExport        Operation = "data.export"
	OpUserManage        Operation = "user.manage"
	OpFinanceManage     Operation = "finance.manage"
)

// Public operations, allowed for every role including unknown ones.
const (
	OpNewsRead      Operation = "news.read"
	OpGalleryRead   Operation = "gallery.read"
	OpContactSubmit Operation = "contact.submit"
)

var publicOps = []Operation{OpNewsRead, OpGalleryRead, OpContactSubmit}

// Operations lists every known operation, public ones last.
func Operations() []Operation {
	return append([]Operation{
		OpAnimalRead, OpAnimalCreate, OpAnimalUpdate, OpAnimalDelete, OpAnimalPayloadRead,
		OpReportView, OpDataExport, OpUserManage, OpFinanceManage,
	}, publicOps...)
}

var grants = map[domain.Role][]Operation{
	domain.RoleFarmWorker: {OpAnimalRead, OpAnimalUpdate, OpAnimalPayloadRead, OpReportView},
	domain.RoleFarmAccountant: {
		OpAnimalRead, OpAnimalPayloadRead, OpReportView, OpDataExport, OpFinanceManage,
	},
}

// Allowed decides whether role may perform op. Unknown roles and operations
// are denied, except public operations.
func Allowed(role domain.Role, op Operation) bool {
	for _, p := range publicOps {
		if op == p {
			return true
		}
	}
	if role == domain.RoleAdmin {
		for _, known := range Operations() {
			if op == known {
				return true
			}
		}
		return false
	}
	for _, granted := range grants[role] {
		if op == granted {
			return true
		}
	}
	return false
}

// Require returns ErrPermissionDenied when role lacks op.
func Require(role domain.Role, op Operation) error {
	if Allowed(role, op) {
		return nil
	}
	return fmt.Errorf("%s may not %s: %w", displayRole(role), op, ErrPermissionDenied)
}

func displayRole(role domain.Role) string {
	if role == "" {
		return "anonymous"
	}
	return string(role)
}

// Capabilities are the UI flags shown alongside a user's role.
type Capabilities struct {
	CanCreateAnimals bool `json:"can_create_animals"`
	CanEditAnimals   bool `json:"can_edit_animals"`
	CanDeleteAnimals bool `json:"can_delete_animals"`
	CanViewReports   bool `json:"can_view_reports"`
	CanManageUsers   bool `json:"can_manage_users"`
}

// CapabilitiesFor derives capability flags from Allowed.
func CapabilitiesFor(role domain.Role) Capabilities {
	return Capabilities{
		CanCreateAnimals: Allowed(role, OpAnimalCreate),
		CanEditAnimals:   Allowed(role, OpAnimalUpdate),
		CanDeleteAnimals: Allowed(role, OpAnimalDelete),
		CanViewReports:   Allowed(role, OpReportView),
		CanManageUsers:   Allowed(role, OpUserManage),
	}
}

// Policy evaluates Allowed for every role and operation.
func Policy() map[domain.Role]map[Operation]bool {
	out := make(map[domain.Role]map[Operation]bool, len(domain.Roles()))
	for _, role := range domain.Roles() {
		row := make(map[Operation]bool, len(Operations()))
		for _, op := range Operations() {
			row[op] = Allowed(role, op)
		}
		out[role] = row
	}
	return out
}
