package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/travelmate/authgate/session"
)

const sessionColumns = `id, secret_hash, principal_id, device_id, device_label, origin_ip,
	user_agent, issued_at, expires_at, last_used_at, revoked`

// SessionRepository is a [session.Repository] over the refresh_sessions table.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s    session.Session
		hash []byte
	)
	err := row.Scan(&s.ID, &hash, &s.PrincipalID, &s.DeviceID, &s.DeviceLabel, &s.OriginIP,
		&s.UserAgent, &s.IssuedAt, &s.ExpiresAt, &s.LastUsedAt, &s.Revoked)
	if err != nil {
		return nil, err
	}
	if len(hash) != len(s.SecretHash) {
		return nil, fmt.Errorf("postgres: session %s has a %d byte hash", s.ID, len(hash))
	}
	copy(s.SecretHash[:], hash)
	return &s, nil
}

// Issue implements [session.Repository]. A transaction-scoped advisory lock
// on the principal serializes concurrent issuance for the same principal.
func (r *SessionRepository) Issue(ctx context.Context, sess *session.Session, maxActive int, now time.Time) ([]*session.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sess.PrincipalID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY issued_at, id
		FOR UPDATE`, sess.PrincipalID, now)
	if err != nil {
		return nil, err
	}
	var active []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		active = append(active, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	evicted := session.SelectEvictions(active, maxActive)
	for _, s := range evicted {
		if _, err := tx.ExecContext(ctx, `UPDATE refresh_sessions SET revoked = TRUE WHERE id = $1`, s.ID); err != nil {
			return nil, err
		}
		s.Revoked = true
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO refresh_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.SecretHash[:], sess.PrincipalID, sess.DeviceID, sess.DeviceLabel, sess.OriginIP,
		sess.UserAgent, sess.IssuedAt, sess.ExpiresAt, sess.LastUsedAt, sess.Revoked)
	if isUniqueViolation(err) {
		return nil, session.ErrDuplicateSecret
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *SessionRepository) FindBySecretHash(ctx context.Context, hash [32]byte) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE secret_hash = $1`, hash[:])
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return s, err
}

func (r *SessionRepository) FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*session.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY issued_at, id`, principalID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepository) Touch(ctx context.Context, hash [32]byte, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_sessions SET last_used_at = $2 WHERE secret_hash = $1`, hash[:], at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) Revoke(ctx context.Context, hash [32]byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked = TRUE WHERE secret_hash = $1 AND NOT revoked`, hash[:])
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SessionRepository) RevokePrincipal(ctx context.Context, principalID, deviceID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if deviceID == "" {
		res, err = r.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked = TRUE
			WHERE principal_id = $1 AND NOT revoked`, principalID)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked = TRUE
			WHERE principal_id = $1 AND device_id = $2 AND NOT revoked`, principalID, deviceID)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SessionRepository) Delete(ctx context.Context, hash [32]byte) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE secret_hash = $1`, hash[:])
	return err
}

func (r *SessionRepository) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE revoked OR expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
