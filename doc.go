// Package authgate is the session and access-control core of the travel
// backend: login with brute-force protection, refresh sessions capped per
// principal, layered request quotas and access-token validation.
//
// # Components
//
//   - [quota.Limiter] enforces token-bucket quotas per (scope, identity).
//   - [attempt.Guard] and [attempt.Lockout] throttle failed logins.
//   - [session.Store] manages refresh sessions and the device cap.
//   - [jwt.Manager] issues and verifies access tokens.
//
// [Engine] wires them together and is the only type HTTP layers should call.
// The gateway package turns it into per-request middleware.
//
// # Errors
//
// Every client-facing failure is an *[Error] with a closed [Kind]. Match with
// errors.Is against the exported sentinels or inspect Kind directly.
// Infrastructure failures are logged and surfaced as [KindInternal] without
// their cause.
//
// # Maintenance
//
// Idle buckets, closed attempt windows, expired origins, dead sessions and
// expired locks are only removed by [Engine.RunMaintenance]. Schedule it; the
// engine never sweeps on request paths.
package authgate
