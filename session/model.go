package session

import (
	"sort"
	"time"
)

// Session is a refresh-credential record.
type Session struct {
	ID          string
	SecretHash  [32]byte
	PrincipalID string
	DeviceID    string
	DeviceLabel string
	OriginIP    string
	UserAgent   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	Revoked     bool
}

// Active reports whether the session can still be refreshed at now.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}

// SortByIssued orders sessions by IssuedAt, then ID.
func SortByIssued(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].IssuedAt.Equal(sessions[j].IssuedAt) {
			return sessions[i].IssuedAt.Before(sessions[j].IssuedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// SelectEvictions returns the sessions to revoke so that one more can be
// issued without exceeding maxActive. active must contain only active
// sessions; it is sorted in place.
func SelectEvictions(active []*Session, maxActive int) []*Session {
	if maxActive <= 0 || len(active) < maxActive {
		return nil
	}
	SortByIssued(active)
	return active[:len(active)-maxActive+1]
}
