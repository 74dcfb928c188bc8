package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const secretSize = 32

// NewSecret returns a fresh encoded secret and its hash.
func NewSecret() (string, [32]byte, error) {
	var raw [secretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, fmt.Errorf("session: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[:]), nil
}

// HashSecret decodes an encoded secret and returns its hash. A secret that is
// not a well-formed encoding of 32 bytes yields ErrInvalid.
func HashSecret(secret string) ([32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != secretSize {
		return [32]byte{}, ErrInvalid
	}
	return sha256.Sum256(raw), nil
}

// HashHex is the printable form of a secret hash used in storage keys.
func HashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// ParseHashHex reverses HashHex.
func ParseHashHex(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("session: bad hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}
