package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID  = "argon2id"
	minPassBytes = 8
)

// Argon2Params tunes argon2id. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns 64 MiB, three passes and two lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) check() error {
	switch {
	case p.Memory < 8*1024:
		return fmt.Errorf("password: argon2 memory %d KiB below 8192", p.Memory)
	case p.Time == 0:
		return fmt.Errorf("password: argon2 time cost must be positive")
	case p.Parallelism == 0:
		return fmt.Errorf("password: argon2 parallelism must be positive")
	case p.SaltLength < 16:
		return fmt.Errorf("password: salt length %d below 16", p.SaltLength)
	case p.KeyLength < 16:
		return fmt.Errorf("password: key length %d below 16", p.KeyLength)
	}
	return nil
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	memory uint32
	time   uint32
	lanes  uint8
	salt   []byte
	key    []byte
}

var b64 = base64.RawStdEncoding

func (h phc) String() string {
	return "$" + algorithmID + fmt.Sprintf("$v=%d$m=%d,t=%d,p=%d$", argon2.Version, h.memory, h.time, h.lanes) +
		b64.EncodeToString(h.salt) + "$" + b64.EncodeToString(h.key)
}

func decodePHC(s string) (phc, error) {
	// "", algorithm, version, params, salt, key
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phc{}, ErrMalformedHash
	}
	if fields[1] != algorithmID {
		return phc{}, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, fmt.Errorf("%w: version field", ErrMalformedHash)
	}
	if version != argon2.Version {
		return phc{}, ErrUnsupportedHash
	}

	var h phc
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.lanes); err != nil {
		return phc{}, fmt.Errorf("%w: cost field", ErrMalformedHash)
	}
	if h.memory == 0 || h.time == 0 || h.lanes == 0 {
		return phc{}, fmt.Errorf("%w: zero cost", ErrMalformedHash)
	}

	var err error
	if h.salt, err = b64.Strict().DecodeString(fields[4]); err != nil || len(h.salt) == 0 {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if h.key, err = b64.Strict().DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return phc{}, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return h, nil
}

// Argon2 hashes and verifies argon2id PHC strings.
type Argon2 struct {
	params Argon2Params
}

// NewArgon2 rejects parameters weaker than 8 MiB memory, one pass, one lane
// and 16 byte salts and keys.
func NewArgon2(p Argon2Params) (*Argon2, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return &Argon2{params: p}, nil
}

// Hash derives a fresh salted key for password and encodes it as PHC.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrTooShort
	}
	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	h := phc{
		memory: a.params.Memory,
		time:   a.params.Time,
		lanes:  a.params.Parallelism,
		salt:   salt,
	}
	h.key = argon2.IDKey([]byte(password), salt, h.time, h.memory, h.lanes, a.params.KeyLength)
	return h.String(), nil
}

// Verify recomputes the key with the costs stored in encoded, so hashes made
// under older parameters still verify.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.lanes, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with any cost or length
// below the hasher's current parameters.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	p := a.params
	weaker := h.memory < p.Memory ||
		h.time < p.Time ||
		h.lanes < p.Parallelism ||
		uint32(len(h.salt)) < p.SaltLength ||
		uint32(len(h.key)) < p.KeyLength
	return weaker, nil
}
