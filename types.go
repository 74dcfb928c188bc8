package authgate

import (
	"context"
	"time"

	"github.com/travelmate/authgate/session"
)

// Principal is the authentication view of a user account. The account itself
// is owned by the caller's persistence layer.
type Principal struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	TwoFactorEnabled bool
	TOTPSecret       string
}

// PrincipalProvider looks principals up. Both methods return
// ErrPrincipalNotFound when nothing matches.
type PrincipalProvider interface {
	FindByCredential(ctx context.Context, credentialID string) (*Principal, error)
	FindByID(ctx context.Context, principalID string) (*Principal, error)
}

// PasswordVerifier compares a plaintext password with a stored hash.
type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// SecondFactorVerifier checks a one-time code against a principal's secret.
type SecondFactorVerifier interface {
	Verify(secret, code string) (bool, error)
}

// AnomalyAlert describes a login from an origin not seen recently.
type AnomalyAlert struct {
	PrincipalID string
	Email       string
	Name        string
	OriginIP    string
	Location    string
	UserAgent   string
	At          time.Time
}

// Notifier delivers anomaly alerts. It is called off the request path.
type Notifier interface {
	NotifyAnomalousLogin(ctx context.Context, alert AnomalyAlert) error
}

// LocationResolver maps an IP to a human-readable location label.
type LocationResolver interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// UnknownLocation is the label used when no resolver is configured or it fails.
const UnknownLocation = "Unknown Location"

// LoginRequest carries everything the login flow needs.
type LoginRequest struct {
	Credential  string
	Password    string
	TOTPCode    string
	DeviceID    string
	DeviceLabel string
	OriginIP    string
	UserAgent   string
}

// LoginResult is returned by a completed login, or by a login that stopped
// to ask for the second factor (RequiresSecondFactor set, no tokens).
type LoginResult struct {
	RequiresSecondFactor bool
	PrincipalID          string
	AccessToken          string
	AccessExpiresAt      time.Time
	RefreshToken         string
	Session              *session.Session
	NewOrigin            bool
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	Session         *session.Session
}

// IdentityStatus records what the gateway concluded about a request's bearer
// credential.
type IdentityStatus uint8

const (
	StatusAnonymous IdentityStatus = iota
	StatusAuthenticated
	StatusExpired
	StatusMalformed
)

func (s IdentityStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusExpired:
		return "expired"
	case StatusMalformed:
		return "malformed"
	default:
		return "anonymous"
	}
}

// Identity is attached to every request that passed the gateway.
type Identity struct {
	PrincipalID string
	Email       string
	Name        string
	Status      IdentityStatus
	ExpiresAt   time.Time
}

// Authenticated reports whether the request carried a valid access token.
func (i *Identity) Authenticated() bool {
	return i != nil && i.Status == StatusAuthenticated
}

// MaintenanceReport counts what one maintenance run removed.
type MaintenanceReport struct {
	Buckets        int
	AttemptWindows int
	Origins        int
	Sessions       int
	Unlocked       int
	Duration       time.Duration
}
