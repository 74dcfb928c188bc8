package password

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	// one step of clock drift either way
	totpSkew = 1
)

// TOTPVerifier validates 6 digit RFC 6238 codes.
type TOTPVerifier struct {
	now func() time.Time
}

// NewTOTPVerifier returns a verifier reading time from now, or time.Now when
// nil.
func NewTOTPVerifier(now func() time.Time) *TOTPVerifier {
	if now == nil {
		now = time.Now
	}
	return &TOTPVerifier{now: now}
}

// Verify reports whether code is valid for secret at the current time. An
// empty secret never validates.
func (v *TOTPVerifier) Verify(secret, code string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	return totp.ValidateCustom(strings.TrimSpace(code), secret, v.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateTOTPSecret creates a new base32 secret for accountName.
func GenerateTOTPSecret(issuer, accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
