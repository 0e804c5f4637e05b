// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by farmcore.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnimal identifies an individual animal record.
	EntityAnimal EntityType = "animal"
	// EntityUser identifies an account record.
	EntityUser EntityType = "user"
	// EntityProfile identifies the role-bearing profile attached to a user.
	EntityProfile EntityType = "profile"
	// EntityGroup identifies a managed access group.
	EntityGroup EntityType = "group"
	// EntityMembership identifies a user-to-group link.
	EntityMembership EntityType = "membership"
	// EntitySequence identifies an identifier sequence counter.
	EntitySequence EntityType = "sequence"
)

// Sex is the categorical sex of an animal.
type Sex string

// Supported sexes. The first character feeds identifier prefixes.
const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// Valid reports whether s is a known sex.
func (s Sex) Valid() bool { return s == SexMale || s == SexFemale }

// Breed is the categorical breed of an animal.
type Breed string

// Supported breeds.
const (
	BreedJersey     Breed = "Jersey"
	BreedHolstein   Breed = "Holstein"
	BreedGuernsey   Breed = "Guernsey"
	BreedAyrshire   Breed = "Ayrshire"
	BreedBrownSwiss Breed = "Brown_Swiss"
	BreedZebu       Breed = "Zebu"
	BreedCrossbreed Breed = "Crossbreed"
)

var breeds = []Breed{BreedJersey, BreedHolstein, BreedGuernsey, BreedAyrshire, BreedBrownSwiss, BreedZebu, BreedCrossbreed}

// Breeds returns the closed breed set in display order.
func Breeds() []Breed { return append([]Breed(nil), breeds...) }

// Valid reports whether b is a known breed.
func (b Breed) Valid() bool {
	for _, known := range breeds {
		if b == known {
			return true
		}
	}
	return false
}

// DisplayName renders the breed for humans (Brown_Swiss -> Brown Swiss).
func (b Breed) DisplayName() string { return strings.ReplaceAll(string(b), "_", " ") }

// DefaultHealthStatus is applied to animals registered without an explicit status.
const DefaultHealthStatus = "Healthy"

// Animal is an individual farm animal.
//
// Identifier, Sex and Breed are fixed once the record is first persisted; the
// identifier embeds the sex and breed codes and is never reassigned.
type Animal struct {
	ID           string           `json:"id"`
	Identifier   string           `json:"animal_id"`
	Name         string           `json:"name"`
	Sex          Sex              `json:"sex"`
	Breed        Breed            `json:"breed"`
	YearOfBirth  int              `json:"year_of_birth"`
	FatherID     *string          `json:"father_id,omitempty"`
	MotherID     *string          `json:"mother_id,omitempty"`
	Weight       *decimal.Decimal `json:"weight,omitempty"`
	HealthStatus string           `json:"health_status"`
	Notes        string           `json:"notes"`
	PayloadKey   string           `json:"qr_code,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Age returns the animal's age in whole years relative to now.
func (a Animal) Age(now time.Time) int {
	return now.Year() - a.YearOfBirth
}

// AnimalDraft carries caller-supplied attributes for a new animal.
type AnimalDraft struct {
	Name         string           `validate:"required,max=100"`
	Sex          Sex              `validate:"required,oneof=Male Female"`
	Breed        Breed            `validate:"required,oneof=Jersey Holstein Guernsey Ayrshire Brown_Swiss Zebu Crossbreed"`
	YearOfBirth  int              `validate:"required,gte=1900"`
	FatherID     *string          `validate:"omitempty"`
	MotherID     *string          `validate:"omitempty"`
	Weight       *decimal.Decimal `validate:"omitempty"`
	HealthStatus string           `validate:"max=50"`
	Notes        string
}

// Role is the single authoritative access classification of a user.
type Role string

// The closed role set.
const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleStaff          Role = "staff"
	RoleWorker         Role = "worker"
	RoleFarmWorker     Role = "farm_worker"
	RoleFarmAccountant Role = "farm_accountant"
	RoleGuest          Role = "guest"
)

var roleDisplay = map[Role]string{
	RoleAdmin:          "Administrator",
	RoleManager:        "Manager",
	RoleStaff:          "Staff",
	RoleWorker:         "Worker",
	RoleFarmWorker:     "Farm Worker",
	RoleFarmAccountant: "Farm Accountant",
	RoleGuest:          "Guest User",
}

// Roles returns every member of the closed role set.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleStaff, RoleWorker, RoleFarmWorker, RoleFarmAccountant, RoleGuest}
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := roleDisplay[r]
	return ok
}

// DisplayName returns the human readable role label.
func (r Role) DisplayName() string {
	if name, ok := roleDisplay[r]; ok {
		return name
	}
	return string(r)
}

// User is an account. IsStaff and IsSuperuser are the elevated-privilege
// flags derived from the profile role.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	IsStaff     bool      `json:"is_staff"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Profile extends a user with farm employment data and the authoritative role.
type Profile struct {
	UserID           string           `json:"user_id"`
	Role             Role             `json:"role"`
	PhoneNumber      string           `json:"phone_number,omitempty"`
	EmployeeID       string           `json:"employee_id,omitempty"`
	HireDate         *time.Time       `json:"hire_date,omitempty"`
	IsActiveEmployee bool             `json:"is_active_employee"`
	Salary           *decimal.Decimal `json:"salary,omitempty"`
	WeeklyTasks      string           `json:"weekly_tasks,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Tasks splits the comma separated weekly task list.
func (p Profile) Tasks() []string {
	if strings.TrimSpace(p.WeeklyTasks) == "" {
		return nil
	}
	parts := strings.Split(p.WeeklyTasks, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// UserDraft carries caller-supplied attributes for a new account.
type UserDraft struct {
	Username  string `validate:"required,max=150"`
	Email     string `validate:"required,email"`
	FirstName string `validate:"max=30"`
	LastName  string `validate:"max=30"`
	// Role is honored for every account but the first, which is always admin.
	// Empty means guest.
	Role    Role
	Profile ProfileDraft
}

// ProfileDraft carries optional employment attributes applied at account creation.
type ProfileDraft struct {
	PhoneNumber      string `validate:"max=15"`
	EmployeeID       string `validate:"max=20"`
	HireDate         *time.Time
	IsActiveEmployee *bool
	Salary           *decimal.Decimal
	WeeklyTasks      string
	Notes            string
}

// Group is a named access group whose membership is derived from roles.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a user to a group.
type Membership struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`
}

// SequenceCounter records the last number issued for an identifier prefix.
type SequenceCounter struct {
	Prefix string `json:"prefix"`
	Value  int64  `json:"value"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
