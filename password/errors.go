package password

import "errors"

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash is returned for hash schemes this package cannot verify.
	ErrUnsupportedHash = errors.New("password: unsupported hash scheme")
	// ErrTooShort is returned by Hash for passwords under the minimum length.
	ErrTooShort = errors.New("password: too short")
)
