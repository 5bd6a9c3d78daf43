// Package identity defines document identities and their normal forms.
// A cut sheet is identified by the pair (manufacturer, part number).
// All comparison and keying goes through the pure normalization functions
// in this package; no other code normalizes identities.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrMissingManufacturer indicates an identity with an empty manufacturer.
var ErrMissingManufacturer = errors.New("identity missing manufacturer")

// ErrMissingPartNumber indicates an identity with an empty part number.
var ErrMissingPartNumber = errors.New("identity missing part number")

// Identity names a document by manufacturer and part number.
// Raw spellings are preserved as entered; equality and keying use the
// normal forms produced by Fold and Key.
type Identity struct {
	// Manufacturer is the equipment manufacturer name as entered.
	Manufacturer string `json:"manufacturer"`

	// PartNumber is the manufacturer's part number as entered.
	PartNumber string `json:"partNumber"`
}

// Fold returns the comparison normal form of s: lower-cased with all
// space, hyphen, and underscore runes removed. Two raw spellings denote
// the same value iff their folds are equal, so "ACH550-01" matches
// "ach550_01" and "ACH 550 01".
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// keyPart lower-cases s and replaces every non-alphanumeric rune with '-'.
func keyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Key returns the manifest map key for the identity: the lower-cased
// manufacturer and part number with non-alphanumeric runes replaced by
// '-', joined by '-'. {"ABB", "ACH550-01"} yields "abb-ach550-01".
func (id Identity) Key() string {
	return keyPart(id.Manufacturer) + "-" + keyPart(id.PartNumber)
}

// Equal reports whether both identities denote the same document under
// fold comparison.
func (id Identity) Equal(other Identity) bool {
	return Fold(id.Manufacturer) == Fold(other.Manufacturer) &&
		Fold(id.PartNumber) == Fold(other.PartNumber)
}

// Validate checks that both components are present. Whitespace-only
// values count as empty.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Manufacturer) == "" {
		return ErrMissingManufacturer
	}
	if strings.TrimSpace(id.PartNumber) == "" {
		return ErrMissingPartNumber
	}
	return nil
}

// String renders the identity for logs and messages.
func (id Identity) String() string {
	return fmt.Sprintf("%s %s", id.Manufacturer, id.PartNumber)
}
