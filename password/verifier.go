package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks passwords against argon2id or bcrypt hashes and produces
// argon2id hashes.
type Verifier struct {
	argon *Argon2
}

// NewVerifier returns a verifier hashing with p. Parameters below the package
// minimums are replaced with DefaultArgon2Params.
func NewVerifier(p Argon2Params) *Verifier {
	a, err := NewArgon2(p)
	if err != nil {
		a = &Argon2{params: DefaultArgon2Params()}
	}
	return &Verifier{argon: a}
}

// Hash returns a new argon2id hash of password.
func (v *Verifier) Hash(password string) (string, error) {
	return v.argon.Hash(password)
}

// Verify reports whether password matches encodedHash.
func (v *Verifier) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$"):
		return v.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, ErrMalformedHash
		}
		return true, nil
	case encodedHash == "":
		return false, ErrMalformedHash
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encodedHash should be replaced. Every bcrypt
// hash does.
func (v *Verifier) NeedsRehash(encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		return true, nil
	}
	return v.argon.NeedsUpgrade(encodedHash)
}

func isBcrypt(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}
