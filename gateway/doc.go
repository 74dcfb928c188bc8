// Package gateway is the per-request HTTP front of authgate.
//
// [Gateway.Middleware] runs on every request. It charges the endpoint and
// client IP quota scopes first. Once those pass, it validates the bearer
// access token, if there is one, and charges the principal scope. An
// [authgate.Identity] is then attached to the request context. Token
// problems never abort the request. They are recorded in the identity status
// and left to [RequireAuthenticated] or the handler.
//
// This package translates HTTP to engine calls. It does not parse tokens or
// touch any store itself.
package gateway
