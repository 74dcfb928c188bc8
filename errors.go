package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates client-visible failure classes.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalidCredential
	KindAccountLocked
	KindTooManyAttempts
	KindRateLimitExceeded
	KindMalformedCredential
	KindExpiredCredential
	KindSessionInvalid
)

type kindInfo struct {
	status  int
	code    string
	message string
}

var kinds = [...]kindInfo{
	KindInternal:            {http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"},
	KindInvalidCredential:   {http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid email or password"},
	KindAccountLocked:       {http.StatusLocked, "ACCOUNT_LOCKED", "account is temporarily locked"},
	KindTooManyAttempts:     {http.StatusTooManyRequests, "TOO_MANY_LOGIN_ATTEMPTS", "too many login attempts, try again later"},
	KindRateLimitExceeded:   {http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests, try again later"},
	KindMalformedCredential: {http.StatusUnauthorized, "MALFORMED_TOKEN", "access token is invalid"},
	KindExpiredCredential:   {http.StatusUnauthorized, "TOKEN_EXPIRED", "access token has expired"},
	KindSessionInvalid:      {http.StatusUnauthorized, "SESSION_INVALID", "session is invalid or expired"},
}

func (k Kind) info() kindInfo {
	if int(k) < len(kinds) {
		return kinds[k]
	}
	return kinds[KindInternal]
}

// Status returns the HTTP status for k.
func (k Kind) Status() int { return k.info().status }

// Code returns the machine-readable code for k.
func (k Kind) Code() string { return k.info().code }

func (k Kind) String() string { return k.info().code }

// Error is the engine's client-facing error.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	// Remaining is the time left on an account lock, or on a throttle when
	// known. Zero otherwise.
	Remaining time.Duration

	cause error
}

func newError(kind Kind) *Error {
	info := kind.info()
	return &Error{Kind: kind, Status: info.status, Code: info.code, Message: info.message}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

// Unwrap exposes the underlying cause for logging. It is never part of the
// client response.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels are errors.Is targets. The engine returns fresh copies, so
// changing a returned *Error never touches them.
var (
	ErrInternal            = newError(KindInternal)
	ErrInvalidCredential   = newError(KindInvalidCredential)
	ErrAccountLocked       = newError(KindAccountLocked)
	ErrTooManyAttempts     = newError(KindTooManyAttempts)
	ErrRateLimitExceeded   = newError(KindRateLimitExceeded)
	ErrMalformedCredential = newError(KindMalformedCredential)
	ErrExpiredCredential   = newError(KindExpiredCredential)
	ErrSessionInvalid      = newError(KindSessionInvalid)
)

func lockedError(remaining time.Duration) *Error {
	e := newError(KindAccountLocked)
	e.Remaining = remaining
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	e.Message = fmt.Sprintf("account is locked, try again in %d minute(s)", minutes)
	return e
}

func internalError(cause error) *Error {
	e := newError(KindInternal)
	e.cause = cause
	return e
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ErrPrincipalNotFound is returned by a PrincipalProvider when nothing matches.
var ErrPrincipalNotFound = errors.New("authgate: principal not found")
