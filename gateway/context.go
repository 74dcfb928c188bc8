package gateway

import (
	"context"

	"github.com/travelmate/authgate"
)

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *authgate.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by the middleware.
func IdentityFromContext(ctx context.Context) (*authgate.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authgate.Identity)
	return id, ok && id != nil
}
