package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/travelmate/authgate/attempt"
)

// LockoutStore is an [attempt.LockoutStore] over the principal_lockouts table.
type LockoutStore struct {
	db *sql.DB
}

func NewLockoutStore(db *sql.DB) *LockoutStore {
	return &LockoutStore{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readLockout(ctx context.Context, q queryer, principalID, suffix string) (attempt.LockoutState, error) {
	var (
		st          attempt.LockoutState
		until, last sql.NullTime
	)
	err := q.QueryRowContext(ctx, `SELECT failed_attempts, locked_until, last_failure_at FROM principal_lockouts
		WHERE principal_id = $1`+suffix, principalID).Scan(&st.FailedAttempts, &until, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return attempt.LockoutState{}, nil
	}
	if err != nil {
		return st, err
	}
	if until.Valid {
		st.LockedUntil = until.Time
	}
	if last.Valid {
		st.LastFailure = last.Time
	}
	return st, nil
}

func (s *LockoutStore) Lockout(ctx context.Context, principalID string) (attempt.LockoutState, error) {
	return readLockout(ctx, s.db, principalID, "")
}

// RecordLockoutFailure implements [attempt.LockoutStore].
func (s *LockoutStore) RecordLockoutFailure(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (attempt.LockoutState, error) {
	st, _, err := s.update(ctx, principalID, func(cur attempt.LockoutState) (attempt.LockoutState, bool) {
		return cur.Next(threshold, lockFor, now), true
	})
	return st, err
}

// ReserveLockout implements [attempt.LockoutStore].
func (s *LockoutStore) ReserveLockout(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (attempt.LockoutState, bool, error) {
	return s.update(ctx, principalID, func(cur attempt.LockoutState) (attempt.LockoutState, bool) {
		return cur.Reserve(threshold, lockFor, now)
	})
}

// update applies fn to the row read FOR UPDATE and writes the result back
// when fn reports a change. A principal's first failure is serialized by the
// primary key.
func (s *LockoutStore) update(ctx context.Context, principalID string, fn func(attempt.LockoutState) (attempt.LockoutState, bool)) (attempt.LockoutState, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attempt.LockoutState{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO principal_lockouts (principal_id) VALUES ($1)
		ON CONFLICT (principal_id) DO NOTHING`, principalID); err != nil {
		return attempt.LockoutState{}, false, err
	}
	cur, err := readLockout(ctx, tx, principalID, " FOR UPDATE")
	if err != nil {
		return attempt.LockoutState{}, false, err
	}
	next, changed := fn(cur)
	if !changed {
		return next, false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE principal_lockouts
		SET failed_attempts = $2, locked_until = $3, last_failure_at = $4
		WHERE principal_id = $1`, principalID, next.FailedAttempts, nullTime(next.LockedUntil), nullTime(next.LastFailure)); err != nil {
		return attempt.LockoutState{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return attempt.LockoutState{}, false, err
	}
	return next, true, nil
}

// ReleaseLockout implements [attempt.LockoutStore] in one statement, so it
// needs no row lock of its own.
func (s *LockoutStore) ReleaseLockout(ctx context.Context, principalID string, threshold int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE principal_lockouts
		SET failed_attempts = GREATEST(failed_attempts - 1, 0),
		    locked_until = CASE WHEN failed_attempts - 1 < $2 THEN NULL ELSE locked_until END
		WHERE principal_id = $1`, principalID, threshold)
	return err
}

func (s *LockoutStore) ResetLockout(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM principal_lockouts WHERE principal_id = $1`, principalID)
	return err
}

// UnlockExpired deletes expired locks and unlocked rows idle for idle.
func (s *LockoutStore) UnlockExpired(ctx context.Context, now time.Time, idle time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM principal_lockouts
		WHERE (locked_until IS NOT NULL AND locked_until <= $1)
		   OR (locked_until IS NULL AND last_failure_at <= $2)
		   OR (locked_until IS NULL AND last_failure_at IS NULL AND failed_attempts = 0)`, now, now.Add(-idle))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
