package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodHS512   SigningMethod = "hs512"
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("jwt: access token expired")
	// ErrMalformed is returned for tokens that fail format, signature or
	// claim validation.
	ErrMalformed = errors.New("jwt: access token malformed")
)

// Config configures a [Manager].
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256/hs512, or the Ed25519 private
	// key (raw or PEM).
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
	// Now overrides the clock used for iat/exp. Intended for tests.
	Now func() time.Time
}

// Manager creates and parses access tokens.
type Manager struct {
	config Config
}

// AccessClaims is the access-token payload. Subject carries the principal id.
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the token subject.
func (c *AccessClaims) PrincipalID() string {
	return c.Subject
}

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256, MethodHS512:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("jwt: %s requires a secret of at least 32 bytes", cfg.SigningMethod)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured access-token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.AccessTTL
}

// CreateAccess signs a token for principalID and returns it with its expiry.
func (j *Manager) CreateAccess(principalID, email, name string) (string, time.Time, error) {
	now := j.config.Now()
	exp := now.Add(j.config.AccessTTL)
	claims := AccessClaims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	key, err := j.signKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, exp, nil
}

// ParseAccess verifies tokenStr. The error, when not nil, always matches
// exactly one of ErrExpired or ErrMalformed.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.verifyKey()
	})
	if err != nil {
		// golang-jwt verifies the signature before validating claims, so an
		// expiry error implies a good signature.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return claims, nil
}

func (j *Manager) method() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	case MethodHS512:
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) signKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256, MethodHS512:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) verifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256, MethodHS512:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
