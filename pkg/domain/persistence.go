package domain

import (
	"context"
	"errors"
)

// Sentinel persistence errors. Backends wrap them with entity context.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateIdentifier reports a second animal claiming an existing identifier.
	ErrDuplicateIdentifier = errors.New("animal identifier already in use")
	// ErrDuplicateUsername reports a second account claiming an existing username.
	ErrDuplicateUsername = errors.New("username already in use")
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateAnimal(Animal) (Animal, error)
	UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error)
	DeleteAnimal(id string) error
	FindAnimal(id string) (Animal, bool)
	// ReserveSequence increments and returns the durable counter for prefix.
	ReserveSequence(prefix string) (int64, error)
	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	// SetPrivilegeFlags writes the elevated-privilege flags directly. It records
	// no profile change, so it never feeds back into role synchronization.
	SetPrivilegeFlags(userID string, isStaff, isSuperuser bool) error
	FindUser(id string) (User, bool)
	CountUsers() int
	CreateProfile(Profile) (Profile, error)
	UpdateProfile(userID string, mutator func(*Profile) error) (Profile, error)
	FindProfile(userID string) (Profile, bool)
	// EnsureGroup returns the named group, creating it when absent.
	EnsureGroup(name string) (Group, bool, error)
	FindGroupByName(name string) (Group, bool)
	// AddMembership links user and group; it reports whether a link was added.
	AddMembership(userID, groupID string) (bool, error)
	// RemoveMemberships unlinks user from each listed group and returns how many links were removed.
	RemoveMemberships(userID string, groupIDs []string) (int, error)
	ListMemberships(userID string) []Membership
}

// TransactionView provides read-only access to snapshot data for rules and readers.
type TransactionView interface {
	RuleView
	ListGroups() []Group
	GroupsForUser(userID string) []Group
	ListSequences() []SequenceCounter
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAnimal(id string) (Animal, bool)
	ListAnimals() []Animal
	GetUser(id string) (User, bool)
	ListUsers() []User
	GetProfile(userID string) (Profile, bool)
	ListGroups() []Group
	GroupsForUser(userID string) []Group
}
