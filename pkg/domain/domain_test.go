package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{})
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "parent missing"}}})
	if !result.HasBlocking() || len(result.Violations) != 2 {
		t.Fatalf("expected blocking violation, got %+v", result)
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "parent missing") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
	if (RuleViolationError{}).Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected empty violation message")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

type emptyView struct{}

func (emptyView) ListAnimals() []Animal                        { return nil }
func (emptyView) FindAnimal(string) (Animal, bool)             { return Animal{}, false }
func (emptyView) FindAnimalByIdentifier(string) (Animal, bool) { return Animal{}, false }
func (emptyView) ListUsers() []User                            { return nil }
func (emptyView) FindUser(string) (User, bool)                 { return User{}, false }
func (emptyView) FindProfile(string) (Profile, bool)           { return Profile{}, false }

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"a"})
	engine.Register(staticRule{"b"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || res.Violations[1].Rule != "b" {
		t.Fatalf("expected violations in registration order, got %+v", res.Violations)
	}

	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

func TestRolesAndDisplayNames(t *testing.T) {
	if len(Roles()) != 7 {
		t.Fatalf("expected seven roles, got %v", Roles())
	}
	for _, r := range Roles() {
		if !r.Valid() || r.DisplayName() == string(r) {
			t.Fatalf("role %s should be valid with a display name", r)
		}
	}
	if Role("owner").Valid() || Role("owner").DisplayName() != "owner" {
		t.Fatalf("unknown roles must be invalid and display raw")
	}
	if RoleFarmAccountant.DisplayName() != "Farm Accountant" {
		t.Fatalf("unexpected display %q", RoleFarmAccountant.DisplayName())
	}
}

func TestSexAndBreed(t *testing.T) {
	if !SexMale.Valid() || Sex("Steer").Valid() {
		t.Fatalf("unexpected sex validity")
	}
	if len(Breeds()) != 7 || !BreedBrownSwiss.Valid() || Breed("Angus").Valid() {
		t.Fatalf("unexpected breed set %v", Breeds())
	}
	if BreedBrownSwiss.DisplayName() != "Brown Swiss" {
		t.Fatalf("unexpected display %q", BreedBrownSwiss.DisplayName())
	}
	b := Breeds()
	b[0] = "mutated"
	if Breeds()[0] != BreedJersey {
		t.Fatalf("Breeds must return a copy")
	}
}

func TestAnimalAgeAndProfileTasks(t *testing.T) {
	a := Animal{YearOfBirth: 2020}
	if got := a.Age(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); got != 6 {
		t.Fatalf("expected age 6, got %d", got)
	}
	p := Profile{WeeklyTasks: " milking, feeding ,, fencing "}
	tasks := p.Tasks()
	if len(tasks) != 3 || tasks[1] != "feeding" {
		t.Fatalf("unexpected tasks %v", tasks)
	}
	if (Profile{}).Tasks() != nil {
		t.Fatalf("expected no tasks")
	}
	u := User{FirstName: "Ann", LastName: ""}
	if u.FullName() != "Ann" {
		t.Fatalf("unexpected full name %q", u.FullName())
	}
}
