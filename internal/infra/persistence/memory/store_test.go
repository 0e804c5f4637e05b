package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmcore/pkg/domain"
)

func strPtr(s string) *string { return &s }

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		created, err := tx.CreateAnimal(domain.Animal{Identifier: "MJ/001", Name: "Bull", Sex: domain.SexMale, Breed: domain.BreedJersey})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		view := tx.Snapshot()
		if len(view.ListAnimals()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		if _, ok := view.FindAnimalByIdentifier("MJ/001"); !ok {
			t.Fatalf("expected identifier lookup")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListAnimals()) != 1 {
		t.Fatalf("expected persisted animal")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListAnimals()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListAnimals()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreRuleViolationRollsBack(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateAnimal(domain.Animal{Identifier: "FH/001"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListAnimals()) != 0 {
		t.Fatalf("expected rollback")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestCreateAnimalRejectsDuplicateIdentifier(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	create := func() error {
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, e := tx.CreateAnimal(domain.Animal{Identifier: "FJ/001"})
			return e
		})
		return err
	}
	if err := create(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := create(); !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("expected duplicate identifier error, got %v", err)
	}
}

func TestFunctionErrorDiscardsChanges(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.ReserveSequence("MJ"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := store.ExportState().Sequences["MJ"]; got != 0 {
		t.Fatalf("expected discarded counter, got %d", got)
	}
}

func TestReserveSequenceIncrements(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		var got int64
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			n, err := tx.ReserveSequence("CFJ")
			got = n
			return err
		}); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	err := store.View(ctx, func(view domain.TransactionView) error {
		seqs := view.ListSequences()
		if len(seqs) != 1 || seqs[0].Prefix != "CFJ" || seqs[0].Value != 3 {
			t.Fatalf("unexpected sequences %+v", seqs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, e := tx.ReserveSequence(" ")
		return e
	}); err == nil {
		t.Fatalf("expected empty prefix error")
	}
}

func TestDeleteAnimalClearsOffspringParents(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var sire, dam, calf domain.Animal
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		if sire, err = tx.CreateAnimal(domain.Animal{Identifier: "MJ/001"}); err != nil {
			return err
		}
		if dam, err = tx.CreateAnimal(domain.Animal{Identifier: "FJ/001"}); err != nil {
			return err
		}
		calf, err = tx.CreateAnimal(domain.Animal{Identifier: "CFJ/001", FatherID: strPtr(sire.ID), MotherID: strPtr(dam.ID)})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteAnimal(sire.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, ok := store.GetAnimal(calf.ID)
	if !ok {
		t.Fatalf("expected calf to survive")
	}
	if got.FatherID != nil {
		t.Fatalf("expected father cleared")
	}
	if got.MotherID == nil || *got.MotherID != dam.ID {
		t.Fatalf("expected mother kept")
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteAnimal("missing")
	}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAnimalPreservesIdentityAndTimestamps(t *testing.T) {
	store := NewStore(nil)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return created })
	ctx := context.Background()
	var animal domain.Animal
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Identifier: "FH/001", Name: "Daisy"})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	later := created.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.ID = "other"
			a.Name = "Daisy II"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.GetAnimal(animal.ID)
	if got.Name != "Daisy II" || !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected update result %+v", got)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal("missing", func(*domain.Animal) error { return nil })
		return err
	}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUsersProfilesGroupsAndMemberships(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var user domain.User
	var group domain.Group
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if tx.CountUsers() != 0 {
			t.Fatalf("expected empty store")
		}
		var err error
		user, err = tx.CreateUser(domain.User{Username: "alice"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateUser(domain.User{Username: "ALICE"}); !errors.Is(err, domain.ErrDuplicateUsername) {
			t.Fatalf("expected duplicate username, got %v", err)
		}
		if _, err := tx.CreateProfile(domain.Profile{UserID: user.ID, Role: domain.RoleGuest}); err != nil {
			return err
		}
		if _, err := tx.CreateProfile(domain.Profile{UserID: user.ID}); err == nil {
			t.Fatalf("expected duplicate profile error")
		}
		var created bool
		group, created, err = tx.EnsureGroup("Farm Workers")
		if err != nil || !created {
			t.Fatalf("expected group creation: %v", err)
		}
		again, created, err := tx.EnsureGroup("Farm Workers")
		if err != nil || created || again.ID != group.ID {
			t.Fatalf("expected existing group")
		}
		added, err := tx.AddMembership(user.ID, group.ID)
		if err != nil || !added {
			t.Fatalf("expected membership added: %v", err)
		}
		added, err = tx.AddMembership(user.ID, group.ID)
		if err != nil || added {
			t.Fatalf("expected idempotent membership: %v", err)
		}
		if err := tx.SetPrivilegeFlags(user.ID, true, false); err != nil {
			return err
		}
		_, err = tx.UpdateProfile(user.ID, func(p *domain.Profile) error {
			p.Role = domain.RoleFarmWorker
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if groups := store.GroupsForUser(user.ID); len(groups) != 1 || groups[0].Name != "Farm Workers" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if got, _ := store.GetUser(user.ID); !got.IsStaff || got.IsSuperuser {
		t.Fatalf("expected staff flag set: %+v", got)
	}
	if p, _ := store.GetProfile(user.ID); p.Role != domain.RoleFarmWorker {
		t.Fatalf("expected role update, got %s", p.Role)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		removed, err := tx.RemoveMemberships(user.ID, []string{group.ID, "unknown"})
		if err != nil {
			return err
		}
		if removed != 1 {
			t.Fatalf("expected one removal, got %d", removed)
		}
		if len(tx.ListMemberships(user.ID)) != 0 {
			t.Fatalf("expected no memberships")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(store.GroupsForUser(user.ID)) != 0 {
		t.Fatalf("expected memberships removed")
	}
	if len(store.ListGroups()) != 1 || len(store.ListUsers()) != 1 {
		t.Fatalf("expected group and user retained")
	}
}

func TestMembershipRequiresKnownEntities(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AddMembership("ghost", "g"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing user error, got %v", err)
		}
		u, err := tx.CreateUser(domain.User{Username: "bob"})
		if err != nil {
			return err
		}
		if _, err := tx.AddMembership(u.ID, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing group error, got %v", err)
		}
		if _, _, err := tx.EnsureGroup(""); err == nil {
			t.Fatalf("expected empty group name error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestSnapshotDropsDanglingMemberships(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Users:       map[string]User{"u1": {ID: "u1", Username: "u"}},
		Groups:      map[string]Group{"g1": {ID: "g1", Name: "Farm Staff"}},
		Memberships: map[string][]string{"u1": {"g1", "gone"}},
	})
	if groups := store.GroupsForUser("u1"); len(groups) != 1 {
		t.Fatalf("expected dangling membership dropped, got %+v", groups)
	}
	if ids := store.ExportState().Memberships["u1"]; len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("unexpected exported memberships %v", ids)
	}
}

func TestListAnimalsNewestFirst(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, ident := range []string{"MJ/001", "MJ/002"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.SetNowFunc(func() time.Time { return at })
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateAnimal(domain.Animal{Identifier: ident})
			return err
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list := store.ListAnimals()
	if len(list) != 2 || list[0].Identifier != "MJ/002" {
		t.Fatalf("expected newest first, got %+v", list)
	}
}
