package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/travelmate/authgate"
)

const principalColumns = `id, email, name, password_hash, two_factor_enabled, totp_secret`

// PrincipalDirectory is an [authgate.PrincipalProvider] over the users table.
// Credentials are matched case-insensitively on email.
type PrincipalDirectory struct {
	db *sql.DB
}

func NewPrincipalDirectory(db *sql.DB) *PrincipalDirectory {
	return &PrincipalDirectory{db: db}
}

func (d *PrincipalDirectory) find(ctx context.Context, where string, arg string) (*authgate.Principal, error) {
	var p authgate.Principal
	err := d.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE `+where, arg).
		Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &p.TwoFactorEnabled, &p.TOTPSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authgate.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *PrincipalDirectory) FindByCredential(ctx context.Context, credentialID string) (*authgate.Principal, error) {
	return d.find(ctx, `lower(email) = $1`, strings.ToLower(strings.TrimSpace(credentialID)))
}

func (d *PrincipalDirectory) FindByID(ctx context.Context, principalID string) (*authgate.Principal, error) {
	return d.find(ctx, `id = $1`, principalID)
}

// Create inserts p. Used by seeding and tests.
func (d *PrincipalDirectory) Create(ctx context.Context, p authgate.Principal) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO users (`+principalColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Email, p.Name, p.PasswordHash, p.TwoFactorEnabled, p.TOTPSecret)
	if isUniqueViolation(err) {
		return errors.New("postgres: principal already exists")
	}
	return err
}
