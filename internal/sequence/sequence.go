// Package sequence issues per-prefix animal sequence numbers and renders them
// as PREFIX/NNN identifiers.
//
// Every allocator keeps a durable monotonic counter per prefix. None derives
// the next number by scanning existing identifiers.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"farmcore/pkg/domain"
)

// SpeciesCattle is the species tag leading every identifier prefix.
const SpeciesCattle = 'C'

// Width is the minimum zero-padded width of the numeric part.
const Width = 3

// Allocator returns the next number for a prefix. The first call for a prefix
// returns 1; concurrent calls for one prefix never return the same number.
type Allocator interface {
	Next(ctx context.Context, prefix string) (int64, error)
}

// TxAllocator reserves numbers inside a caller's store transaction so the
// reservation commits or rolls back with the record that uses it.
type TxAllocator interface {
	Allocator
	Reserve(tx domain.Transaction, prefix string) (int64, error)
}

// Prefix derives the three character namespace from sex and breed.
func Prefix(sex domain.Sex, breed domain.Breed) (string, error) {
	if !sex.Valid() {
		return "", fmt.Errorf("sequence: unknown sex %q", sex)
	}
	if !breed.Valid() {
		return "", fmt.Errorf("sequence: unknown breed %q", breed)
	}
	return string([]byte{SpeciesCattle, string(sex)[0], string(breed)[0]}), nil
}

// Format renders PREFIX/NNN. Numbers wider than three digits are kept intact.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s/%0*d", prefix, Width, n)
}

// Parse splits an identifier into prefix and number.
func Parse(identifier string) (string, int64, error) {
	prefix, num, ok := strings.Cut(identifier, "/")
	if !ok || prefix == "" || num == "" {
		return "", 0, fmt.Errorf("sequence: malformed identifier %q", identifier)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("sequence: malformed identifier %q", identifier)
	}
	return prefix, n, nil
}

// BlobPrefix is the key prefix shared by every label image.
const BlobPrefix = "qr_codes/"

// BlobKey is the storage key of the label image for identifier.
func BlobKey(identifier string) string {
	return BlobPrefix + "qr_" + strings.ReplaceAll(identifier, "/", "_") + ".png"
}

func checkPrefix(prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("sequence: prefix required")
	}
	return nil
}
