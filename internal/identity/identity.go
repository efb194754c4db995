// ABOUTME: Identity key normalization and per-identity storage key derivation
// ABOUTME: Keys are NFKC-normalized, trimmed and Unicode case-folded before comparison

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Unknown is recorded in place of an identity when none could be established.
const Unknown = "unknown"

// storageKeyLen is the number of hex characters kept from the digest (128 bits).
const storageKeyLen = 32

// ErrInvalidFormat is returned for identity strings that are not email addresses.
var ErrInvalidFormat = errors.New("invalid identity format")

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Normalize returns the canonical form of an identity key.
// Two raw inputs refer to the same identity iff their normalized forms are equal.
func Normalize(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	// A Caser is stateful, so one is built per call.
	return cases.Fold().String(s)
}

// Validate normalizes raw and checks that it looks like an email address.
func Validate(raw string) (string, error) {
	key := Normalize(raw)
	if key == "" || !emailPattern.MatchString(key) {
		return "", ErrInvalidFormat
	}
	return key, nil
}

// StorageKey derives a fixed-width, path-safe key for per-identity records.
// The input is normalized first so every caller derives the same key.
func StorageKey(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])[:storageKeyLen]
}

// OrUnknown returns key, or Unknown when key is empty.
func OrUnknown(key string) string {
	if key == "" {
		return Unknown
	}
	return key
}
