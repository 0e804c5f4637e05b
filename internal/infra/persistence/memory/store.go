// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"farmcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Animal aliases domain.Animal for in-memory persistence operations.
	Animal = domain.Animal
	// User aliases domain.User.
	User = domain.User
	// Profile aliases domain.Profile.
	Profile = domain.Profile
	// Group aliases domain.Group.
	Group = domain.Group
	// Membership aliases domain.Membership.
	Membership = domain.Membership
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	animals     map[string]Animal
	users       map[string]User
	profiles    map[string]Profile
	groups      map[string]Group
	memberships map[string]map[string]struct{}
	sequences   map[string]int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Animals     map[string]Animal   `json:"animals"`
	Users       map[string]User     `json:"users"`
	Profiles    map[string]Profile  `json:"profiles"`
	Groups      map[string]Group    `json:"groups"`
	Memberships map[string][]string `json:"memberships"`
	Sequences   map[string]int64    `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		animals:     make(map[string]Animal),
		users:       make(map[string]User),
		profiles:    make(map[string]Profile),
		groups:      make(map[string]Group),
		memberships: make(map[string]map[string]struct{}),
		sequences:   make(map[string]int64),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Animals:     make(map[string]Animal, len(state.animals)),
		Users:       make(map[string]User, len(state.users)),
		Profiles:    make(map[string]Profile, len(state.profiles)),
		Groups:      make(map[string]Group, len(state.groups)),
		Memberships: make(map[string][]string, len(state.memberships)),
		Sequences:   make(map[string]int64, len(state.sequences)),
	}
	for k, v := range state.animals {
		s.Animals[k] = cloneAnimal(v)
	}
	for k, v := range state.users {
		s.Users[k] = v
	}
	for k, v := range state.profiles {
		s.Profiles[k] = cloneProfile(v)
	}
	for k, v := range state.groups {
		s.Groups[k] = v
	}
	for userID, set := range state.memberships {
		if len(set) == 0 {
			continue
		}
		ids := make([]string, 0, len(set))
		for groupID := range set {
			ids = append(ids, groupID)
		}
		sort.Strings(ids)
		s.Memberships[userID] = ids
	}
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Animals {
		state.animals[k] = cloneAnimal(v)
	}
	for k, v := range s.Users {
		state.users[k] = v
	}
	for k, v := range s.Profiles {
		state.profiles[k] = cloneProfile(v)
	}
	for k, v := range s.Groups {
		state.groups[k] = v
	}
	for userID, ids := range s.Memberships {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := state.groups[id]; ok {
				set[id] = struct{}{}
			}
		}
		if len(set) > 0 {
			state.memberships[userID] = set
		}
	}
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	return state
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneAnimal(a Animal) Animal {
	cp := a
	if a.FatherID != nil {
		v := *a.FatherID
		cp.FatherID = &v
	}
	if a.MotherID != nil {
		v := *a.MotherID
		cp.MotherID = &v
	}
	if a.Weight != nil {
		v := *a.Weight
		cp.Weight = &v
	}
	return cp
}

func cloneProfile(p Profile) Profile {
	cp := p
	if p.HireDate != nil {
		v := *p.HireDate
		cp.HireDate = &v
	}
	if p.Salary != nil {
		v := *p.Salary
		cp.Salary = &v
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the transaction clock. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func sortAnimals(out []Animal) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Identifier > out[j].Identifier
	})
}

func sortUsers(out []User) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortGroups(out []Group) {
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
}

// ListAnimals returns all animals, newest first.
func (v transactionView) ListAnimals() []Animal {
	out := make([]Animal, 0, len(v.state.animals))
	for _, a := range v.state.animals {
		out = append(out, cloneAnimal(a))
	}
	sortAnimals(out)
	return out
}

// FindAnimal retrieves an animal by ID.
func (v transactionView) FindAnimal(id string) (Animal, bool) {
	a, ok := v.state.animals[id]
	if !ok {
		return Animal{}, false
	}
	return cloneAnimal(a), true
}

// FindAnimalByIdentifier retrieves an animal by its PREFIX/NNN identifier.
func (v transactionView) FindAnimalByIdentifier(identifier string) (Animal, bool) {
	return findByIdentifier(v.state, identifier)
}

// ListUsers returns all users in creation order.
func (v transactionView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out
}

// FindUser retrieves a user by ID.
func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

// FindProfile retrieves the profile owned by userID.
func (v transactionView) FindProfile(userID string) (Profile, bool) {
	p, ok := v.state.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return cloneProfile(p), true
}

// ListGroups returns all groups ordered by name.
func (v transactionView) ListGroups() []Group {
	out := make([]Group, 0, len(v.state.groups))
	for _, g := range v.state.groups {
		out = append(out, g)
	}
	sortGroups(out)
	return out
}

// GroupsForUser returns the groups userID belongs to, ordered by name.
func (v transactionView) GroupsForUser(userID string) []Group {
	return groupsForUser(v.state, userID)
}

// ListSequences returns the identifier counters ordered by prefix.
func (v transactionView) ListSequences() []domain.SequenceCounter {
	out := make([]domain.SequenceCounter, 0, len(v.state.sequences))
	for prefix, value := range v.state.sequences {
		out = append(out, domain.SequenceCounter{Prefix: prefix, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

func findByIdentifier(state *memoryState, identifier string) (Animal, bool) {
	if identifier == "" {
		return Animal{}, false
	}
	for _, a := range state.animals {
		if a.Identifier == identifier {
			return cloneAnimal(a), true
		}
	}
	return Animal{}, false
}

func groupsForUser(state *memoryState, userID string) []Group {
	set := state.memberships[userID]
	out := make([]Group, 0, len(set))
	for groupID := range set {
		if g, ok := state.groups[groupID]; ok {
			out = append(out, g)
		}
	}
	sortGroups(out)
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateAnimal stores a new animal within the transaction. Identifiers are unique.
func (tx *transaction) CreateAnimal(a Animal) (Animal, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.animals[a.ID]; exists {
		return Animal{}, fmt.Errorf("animal %q already exists", a.ID)
	}
	if _, taken := findByIdentifier(&tx.state, a.Identifier); taken {
		return Animal{}, fmt.Errorf("animal %s: %w", a.Identifier, domain.ErrDuplicateIdentifier)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.animals[a.ID] = cloneAnimal(a)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionCreate, After: cloneAnimal(a)})
	return cloneAnimal(a), nil
}

// UpdateAnimal mutates an animal using the provided mutator function.
func (tx *transaction) UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error) {
	current, ok := tx.state.animals[id]
	if !ok {
		return Animal{}, fmt.Errorf("animal %q: %w", id, domain.ErrNotFound)
	}
	before := cloneAnimal(current)
	if err := mutator(&current); err != nil {
		return Animal{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if current.Identifier != before.Identifier {
		if other, taken := findByIdentifier(&tx.state, current.Identifier); taken && other.ID != id {
			return Animal{}, fmt.Errorf("animal %s: %w", current.Identifier, domain.ErrDuplicateIdentifier)
		}
	}
	tx.state.animals[id] = cloneAnimal(current)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: before, After: cloneAnimal(current)})
	return cloneAnimal(current), nil
}

// DeleteAnimal removes an animal and clears parent references held by its offspring.
func (tx *transaction) DeleteAnimal(id string) error {
	current, ok := tx.state.animals[id]
	if !ok {
		return fmt.Errorf("animal %q: %w", id, domain.ErrNotFound)
	}
	for childID, child := range tx.state.animals {
		if childID == id {
			continue
		}
		fatherMatch := child.FatherID != nil && *child.FatherID == id
		motherMatch := child.MotherID != nil && *child.MotherID == id
		if !fatherMatch && !motherMatch {
			continue
		}
		before := cloneAnimal(child)
		if fatherMatch {
			child.FatherID = nil
		}
		if motherMatch {
			child.MotherID = nil
		}
		child.UpdatedAt = tx.now
		tx.state.animals[childID] = child
		tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: before, After: cloneAnimal(child)})
	}
	delete(tx.state.animals, id)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionDelete, Before: cloneAnimal(current)})
	return nil
}

// FindAnimal retrieves an animal from the transactional state.
func (tx *transaction) FindAnimal(id string) (Animal, bool) {
	return tx.Snapshot().FindAnimal(id)
}

// ReserveSequence increments the counter for prefix and returns the new value.
func (tx *transaction) ReserveSequence(prefix string) (int64, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, fmt.Errorf("sequence prefix required")
	}
	before := tx.state.sequences[prefix]
	next := before + 1
	tx.state.sequences[prefix] = next
	tx.recordChange(Change{
		Entity: domain.EntitySequence,
		Action: domain.ActionUpdate,
		Before: domain.SequenceCounter{Prefix: prefix, Value: before},
		After:  domain.SequenceCounter{Prefix: prefix, Value: next},
	})
	return next, nil
}

// CreateUser stores a new account. Usernames are unique, case-insensitively.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = tx.store.newID()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	for _, existing := range tx.state.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return User{}, fmt.Errorf("user %s: %w", u.Username, domain.ErrDuplicateUsername)
		}
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, After: u})
	return u, nil
}

// UpdateUser mutates account attributes.
func (tx *transaction) UpdateUser(id string, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}
	before := current
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.users[id] = current
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// SetPrivilegeFlags writes the elevated-privilege flags in place.
func (tx *transaction) SetPrivilegeFlags(userID string, isStaff, isSuperuser bool) error {
	current, ok := tx.state.users[userID]
	if !ok {
		return fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	before := current
	current.IsStaff = isStaff
	current.IsSuperuser = isSuperuser
	tx.state.users[userID] = current
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, Before: before, After: current})
	return nil
}

// FindUser retrieves a user from the transactional state.
func (tx *transaction) FindUser(id string) (User, bool) {
	u, ok := tx.state.users[id]
	return u, ok
}

// CountUsers reports how many accounts exist within the transaction.
func (tx *transaction) CountUsers() int {
	return len(tx.state.users)
}

// CreateProfile attaches a profile to an existing user.
func (tx *transaction) CreateProfile(p Profile) (Profile, error) {
	if _, ok := tx.state.users[p.UserID]; !ok {
		return Profile{}, fmt.Errorf("profile owner %q: %w", p.UserID, domain.ErrNotFound)
	}
	if _, exists := tx.state.profiles[p.UserID]; exists {
		return Profile{}, fmt.Errorf("profile for user %q already exists", p.UserID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.profiles[p.UserID] = cloneProfile(p)
	tx.recordChange(Change{Entity: domain.EntityProfile, Action: domain.ActionCreate, After: cloneProfile(p)})
	return cloneProfile(p), nil
}

// UpdateProfile mutates the profile owned by userID.
func (tx *transaction) UpdateProfile(userID string, mutator func(*Profile) error) (Profile, error) {
	current, ok := tx.state.profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("profile for user %q: %w", userID, domain.ErrNotFound)
	}
	before := cloneProfile(current)
	if err := mutator(&current); err != nil {
		return Profile{}, err
	}
	current.UserID = userID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.profiles[userID] = cloneProfile(current)
	tx.recordChange(Change{Entity: domain.EntityProfile, Action: domain.ActionUpdate, Before: before, After: cloneProfile(current)})
	return cloneProfile(current), nil
}

// FindProfile retrieves a profile from the transactional state.
func (tx *transaction) FindProfile(userID string) (Profile, bool) {
	return tx.Snapshot().FindProfile(userID)
}

// EnsureGroup returns the named group, creating it on first use.
func (tx *transaction) EnsureGroup(name string) (Group, bool, error) {
	if strings.TrimSpace(name) == "" {
		return Group{}, false, fmt.Errorf("group name required")
	}
	if g, ok := tx.FindGroupByName(name); ok {
		return g, false, nil
	}
	g := Group{ID: tx.store.newID(), Name: name, CreatedAt: tx.now}
	tx.state.groups[g.ID] = g
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: g})
	return g, true, nil
}

// FindGroupByName looks a group up by its unique name.
func (tx *transaction) FindGroupByName(name string) (Group, bool) {
	for _, g := range tx.state.groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// AddMembership links a user to a group.
func (tx *transaction) AddMembership(userID, groupID string) (bool, error) {
	if _, ok := tx.state.users[userID]; !ok {
		return false, fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	if _, ok := tx.state.groups[groupID]; !ok {
		return false, fmt.Errorf("group %q: %w", groupID, domain.ErrNotFound)
	}
	set := tx.state.memberships[userID]
	if set == nil {
		set = make(map[string]struct{})
		tx.state.memberships[userID] = set
	}
	if _, exists := set[groupID]; exists {
		return false, nil
	}
	set[groupID] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityMembership, Action: domain.ActionCreate, After: Membership{UserID: userID, GroupID: groupID}})
	return true, nil
}

// RemoveMemberships unlinks a user from each listed group.
func (tx *transaction) RemoveMemberships(userID string, groupIDs []string) (int, error) {
	if _, ok := tx.state.users[userID]; !ok {
		return 0, fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	set := tx.state.memberships[userID]
	removed := 0
	for _, groupID := range groupIDs {
		if _, ok := set[groupID]; !ok {
			continue
		}
		delete(set, groupID)
		removed++
		tx.recordChange(Change{Entity: domain.EntityMembership, Action: domain.ActionDelete, Before: Membership{UserID: userID, GroupID: groupID}})
	}
	if len(set) == 0 {
		delete(tx.state.memberships, userID)
	}
	return removed, nil
}

// ListMemberships returns the user's group links ordered by group ID.
func (tx *transaction) ListMemberships(userID string) []Membership {
	set := tx.state.memberships[userID]
	out := make([]Membership, 0, len(set))
	for groupID := range set {
		out = append(out, Membership{UserID: userID, GroupID: groupID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// Read helpers ---------------------------------------------------------------

// GetAnimal retrieves an animal by ID from committed state.
func (s *Store) GetAnimal(id string) (Animal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.animals[id]
	if !ok {
		return Animal{}, false
	}
	return cloneAnimal(a), true
}

// ListAnimals returns all animals from committed state, newest first.
func (s *Store) ListAnimals() []Animal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAnimals()
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	return u, ok
}

// ListUsers returns all users in creation order.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListUsers()
}

// GetProfile retrieves the profile for userID.
func (s *Store) GetProfile(userID string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return cloneProfile(p), true
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListGroups()
}

// GroupsForUser returns the groups userID belongs to.
func (s *Store) GroupsForUser(userID string) []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return groupsForUser(&s.state, userID)
}
