package core

import (
	"context"
	"fmt"

	"farmcore/pkg/domain"
)

// NewDefaultRulesEngine registers the farm invariants enforced on every
// transaction.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(IdentityImmutabilityRule())
	engine.Register(LineageRule())
	return engine
}

// IdentityImmutabilityRule blocks updates that change an animal's identifier,
// sex, or breed once the record exists.
func IdentityImmutabilityRule() domain.Rule { return identityImmutabilityRule{} }

type identityImmutabilityRule struct{}

func (identityImmutabilityRule) Name() string { return "identity_immutability" }

func (r identityImmutabilityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityAnimal || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.Animal)
		after, okAfter := change.After.(domain.Animal)
		if !okBefore || !okAfter {
			continue
		}
		var field string
		switch {
		case before.Identifier != after.Identifier:
			field = "identifier"
		case before.Sex != after.Sex:
			field = "sex"
		case before.Breed != after.Breed:
			field = "breed"
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("animal %s: %s is fixed after registration", before.Identifier, field),
			Entity:   domain.EntityAnimal,
			EntityID: before.ID,
		})
	}
	return res, nil
}

// LineageRule checks parent references on created and updated animals: each
// parent must exist, must not be the animal itself, and must have the sex
// matching its slot.
func LineageRule() domain.Rule { return lineageRule{} }

type lineageRule struct{}

func (lineageRule) Name() string { return "lineage_integrity" }

func (r lineageRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityAnimal || change.Action == domain.ActionDelete {
			continue
		}
		animal, ok := change.After.(domain.Animal)
		if !ok {
			continue
		}
		if msg := checkParent(view, animal, animal.FatherID, domain.SexMale, "father"); msg != "" {
			res.Violations = append(res.Violations, r.violation(animal, msg))
		}
		if msg := checkParent(view, animal, animal.MotherID, domain.SexFemale, "mother"); msg != "" {
			res.Violations = append(res.Violations, r.violation(animal, msg))
		}
	}
	return res, nil
}

func (r lineageRule) violation(a domain.Animal, msg string) domain.Violation {
	return domain.Violation{
		Rule:     r.Name(),
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityAnimal,
		EntityID: a.ID,
	}
}

func checkParent(view domain.RuleView, a domain.Animal, parentID *string, want domain.Sex, slot string) string {
	if parentID == nil {
		return ""
	}
	if *parentID == a.ID {
		return fmt.Sprintf("animal %s cannot be its own %s", a.Identifier, slot)
	}
	parent, ok := view.FindAnimal(*parentID)
	if !ok {
		return fmt.Sprintf("%s %s of animal %s does not exist", slot, *parentID, a.Identifier)
	}
	if parent.Sex != want {
		return fmt.Sprintf("%s %s of animal %s must be %s", slot, parent.Identifier, a.Identifier, want)
	}
	return ""
}
