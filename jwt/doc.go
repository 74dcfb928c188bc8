// Package jwt issues and verifies the short-lived access token.
//
// Verification is signature plus registered claims only; it never consults a
// session store. Failures are split into [ErrExpired] (well formed and
// correctly signed, but past exp) and [ErrMalformed] (everything else), since
// callers react differently: refresh versus re-authenticate.
package jwt
