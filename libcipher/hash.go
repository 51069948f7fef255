// Package libcipher provides keyed hashing for payload fingerprints and
// credential checks. Keys are stretched with HKDF before use so a short
// signing key never feeds the MAC directly.
package libcipher

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrMissingPayload    = errors.New("libcipher: payload is required")
	ErrMissingSigningKey = errors.New("libcipher: signing key is required")
	ErrMissingSalt       = errors.New("libcipher: salt is required")
)

func newDefaultHash() hash.Hash {
	return sha256.New()
}

// GenerateHashArgs carries the inputs for NewHash.
type GenerateHashArgs struct {
	Payload    []byte
	SigningKey []byte
	Salt       []byte
}

// NewHash computes a keyed hash of args.Payload. The signing key is expanded
// with HKDF over the salt, then the payload is MACed with the derived key.
// The same inputs always produce the same hash.
func NewHash(args GenerateHashArgs, hashFn func() hash.Hash) ([]byte, error) {
	if len(args.Payload) == 0 {
		return nil, ErrMissingPayload
	}
	if len(args.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	if len(args.Salt) == 0 {
		return nil, ErrMissingSalt
	}

	kdf := hkdf.New(hashFn, args.SigningKey, args.Salt, nil)
	derived := make([]byte, hashFn().Size())
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("failed to derive hashing key: %w", err)
	}

	mac := hmac.New(hashFn, derived)
	mac.Write(args.Payload)
	return mac.Sum(nil), nil
}

// Equal compares two hashes in constant time.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CheckHash recomputes the hash of payload under key and salt and compares
// it against expected.
func CheckHash(key, salt, payload string, expected []byte) (bool, error) {
	computed, err := NewHash(GenerateHashArgs{
		Payload:    []byte(payload),
		SigningKey: []byte(key),
		Salt:       []byte(salt),
	}, newDefaultHash)
	if err != nil {
		return false, fmt.Errorf("failed to compute hash: %w", err)
	}
	return Equal(computed, expected), nil
}
