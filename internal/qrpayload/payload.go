// Package qrpayload renders an animal's public record as a scannable QR image
// and recovers the record from that image.
package qrpayload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png" // decoder registration for Decode
	"strings"

	"farmcore/pkg/domain"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	skipqr "github.com/skip2/go-qrcode"
)

// DefaultFarm is the facility label embedded in every payload.
const DefaultFarm = "Sidai Enkop Ranch - Isinya, Kitengela"

// DefaultSize renders 10 pixels per QR module.
const DefaultSize = -10

// DefaultRecovery is the error correction level used when none is configured.
const DefaultRecovery = "low"

// ContentType of encoded payloads.
const ContentType = "image/png"

// Snapshot is the canonical public record carried by a payload. Field order
// is fixed, which keeps the JSON encoding byte-stable.
type Snapshot struct {
	AnimalID     string  `json:"animal_id"`
	Name         string  `json:"name"`
	Sex          string  `json:"sex"`
	Breed        string  `json:"breed"`
	YearOfBirth  int     `json:"year_of_birth"`
	FatherID     *string `json:"father_id"`
	MotherID     *string `json:"mother_id"`
	Weight       *string `json:"weight"`
	HealthStatus string  `json:"health_status"`
	Notes        string  `json:"notes"`
	Farm         string  `json:"farm"`
}

// SnapshotOf builds the canonical record. father and mother may be nil; a
// zero weight is rendered as null.
func SnapshotOf(a domain.Animal, father, mother *domain.Animal, farm string) Snapshot {
	if farm == "" {
		farm = DefaultFarm
	}
	s := Snapshot{
		AnimalID:     a.Identifier,
		Name:         a.Name,
		Sex:          string(a.Sex),
		Breed:        string(a.Breed),
		YearOfBirth:  a.YearOfBirth,
		HealthStatus: a.HealthStatus,
		Notes:        a.Notes,
		Farm:         farm,
	}
	if father != nil {
		id := father.Identifier
		s.FatherID = &id
	}
	if mother != nil {
		id := mother.Identifier
		s.MotherID = &id
	}
	if a.Weight != nil && !a.Weight.IsZero() {
		w := a.Weight.StringFixed(2)
		s.Weight = &w
	}
	return s
}

// Encoder turns snapshots into PNG QR codes.
type Encoder struct {
	level skipqr.RecoveryLevel
	size  int
}

// ParseRecovery maps low|medium|high|highest to a QR recovery level. Empty
// selects DefaultRecovery.
func ParseRecovery(name string) (skipqr.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "low":
		return skipqr.Low, nil
	case "medium":
		return skipqr.Medium, nil
	case "high":
		return skipqr.High, nil
	case "highest":
		return skipqr.Highest, nil
	default:
		return 0, fmt.Errorf("qrpayload: unknown recovery level %q", name)
	}
}

// NewEncoder returns an encoder using the named recovery level. A zero size
// selects DefaultSize; negative sizes are pixels per module.
func NewEncoder(recovery string, size int) (*Encoder, error) {
	level, err := ParseRecovery(recovery)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		size = DefaultSize
	}
	return &Encoder{level: level, size: size}, nil
}

// Encode renders s. Identical snapshots yield identical bytes.
func (e *Encoder) Encode(s Snapshot) ([]byte, error) {
	if s.AnimalID == "" {
		return nil, errors.New("qrpayload: snapshot has no identifier")
	}
	text, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("qrpayload: marshal snapshot: %w", err)
	}
	code, err := skipqr.New(string(text), e.level)
	if err != nil {
		return nil, fmt.Errorf("qrpayload: build code: %w", err)
	}
	png, err := code.PNG(e.size)
	if err != nil {
		return nil, fmt.Errorf("qrpayload: render png: %w", err)
	}
	return png, nil
}

// Decode scans a PNG produced by Encode and returns the embedded snapshot.
func Decode(png []byte) (Snapshot, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return Snapshot{}, fmt.Errorf("qrpayload: decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Snapshot{}, fmt.Errorf("qrpayload: binarize: %w", err)
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("qrpayload: scan: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(result.GetText()), &s); err != nil {
		return Snapshot{}, fmt.Errorf("qrpayload: parse snapshot: %w", err)
	}
	return s, nil
}
