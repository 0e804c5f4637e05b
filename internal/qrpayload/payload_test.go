package qrpayload

import (
	"bytes"
	"testing"

	"farmcore/pkg/domain"

	"github.com/shopspring/decimal"
	skipqr "github.com/skip2/go-qrcode"
)

func sampleAnimal() domain.Animal {
	w := decimal.RequireFromString("450.5")
	return domain.Animal{
		Identifier:   "CFJ/001",
		Name:         "Daisy",
		Sex:          domain.SexFemale,
		Breed:        domain.BreedJersey,
		YearOfBirth:  2021,
		Weight:       &w,
		HealthStatus: domain.DefaultHealthStatus,
		Notes:        "calm",
	}
}

func TestSnapshotOf(t *testing.T) {
	father := domain.Animal{Identifier: "CMJ/004"}
	s := SnapshotOf(sampleAnimal(), &father, nil, "")
	if s.Farm != DefaultFarm {
		t.Fatalf("expected default farm label, got %q", s.Farm)
	}
	if s.FatherID == nil || *s.FatherID != "CMJ/004" || s.MotherID != nil {
		t.Fatalf("unexpected parents %+v %+v", s.FatherID, s.MotherID)
	}
	if s.Weight == nil || *s.Weight != "450.50" {
		t.Fatalf("unexpected weight %v", s.Weight)
	}
	zero := decimal.Zero
	a := sampleAnimal()
	a.Weight = &zero
	if SnapshotOf(a, nil, nil, "x").Weight != nil {
		t.Fatalf("expected zero weight rendered as null")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc, err := NewEncoder("medium", 0)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	s := SnapshotOf(sampleAnimal(), nil, nil, "")
	first, err := enc.Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := enc.Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical payloads")
	}
}

func TestEncodeIsSensitiveToEveryField(t *testing.T) {
	enc, err := NewEncoder("low", 0)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	base := SnapshotOf(sampleAnimal(), nil, nil, "")
	baseBytes, err := enc.Encode(base)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parent := "CMH/002"
	weight := "451.00"
	mutations := map[string]func(*Snapshot){
		"name":          func(s *Snapshot) { s.Name = "Rosie" },
		"sex":           func(s *Snapshot) { s.Sex = "Male" },
		"breed":         func(s *Snapshot) { s.Breed = "Zebu" },
		"year_of_birth": func(s *Snapshot) { s.YearOfBirth = 2020 },
		"father_id":     func(s *Snapshot) { s.FatherID = &parent },
		"mother_id":     func(s *Snapshot) { s.MotherID = &parent },
		"weight":        func(s *Snapshot) { s.Weight = &weight },
		"health_status": func(s *Snapshot) { s.HealthStatus = "Sick" },
		"notes":         func(s *Snapshot) { s.Notes = "restless" },
		"farm":          func(s *Snapshot) { s.Farm = "Elsewhere" },
	}
	for field, mutate := range mutations {
		s := base
		mutate(&s)
		got, err := enc.Encode(s)
		if err != nil {
			t.Fatalf("%s: encode: %v", field, err)
		}
		if bytes.Equal(got, baseBytes) {
			t.Fatalf("%s: expected payload to change", field)
		}
	}
}

func TestDecodeRecoversSnapshot(t *testing.T) {
	enc, err := NewEncoder("high", 0)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	mother := domain.Animal{Identifier: "CFJ/000"}
	want := SnapshotOf(sampleAnimal(), nil, &mother, "")
	png, err := enc.Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(png)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AnimalID != want.AnimalID || got.Name != want.Name || got.Farm != want.Farm {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.MotherID == nil || *got.MotherID != "CFJ/000" || got.FatherID != nil {
		t.Fatalf("unexpected parents %+v", got)
	}
	if got.Weight == nil || *got.Weight != "450.50" {
		t.Fatalf("unexpected weight %v", got.Weight)
	}
	if _, err := Decode([]byte("not a png")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseRecovery(t *testing.T) {
	cases := map[string]skipqr.RecoveryLevel{
		"":        skipqr.Low,
		"low":     skipqr.Low,
		" Medium": skipqr.Medium,
		"HIGH":    skipqr.High,
		"highest": skipqr.Highest,
	}
	for in, want := range cases {
		got, err := ParseRecovery(in)
		if err != nil || got != want {
			t.Fatalf("ParseRecovery(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseRecovery("maximum"); err == nil {
		t.Fatalf("expected unknown level error")
	}

	// The unset level renders the same image as an explicit low.
	snap := Snapshot{AnimalID: "CFJ/001", Name: "Daisy", Sex: "Female", Breed: "Jersey", YearOfBirth: 2021, Farm: DefaultFarm}
	implicit, err := NewEncoder("", 0)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	explicit, err := NewEncoder(DefaultRecovery, 0)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	a, err := implicit.Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := explicit.Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected default to match %s", DefaultRecovery)
	}
}

func TestEncoderValidation(t *testing.T) {
	if _, err := NewEncoder("extreme", 0); err == nil {
		t.Fatalf("expected recovery error")
	}
	enc, err := NewEncoder("", 128)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	if _, err := enc.Encode(Snapshot{}); err == nil {
		t.Fatalf("expected missing identifier error")
	}
}
