package jwt

import (
	"context"

	"github.com/dmitrymomot/subsync/pkg/identity"
)

type contextKey struct{ name string }

func (c contextKey) String() string { return c.name }

var claimsContextKey = &contextKey{name: "jwt_claims"}

// SetClaims stores verified claims in the context.
func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims returns the verified claims, if any.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// Descriptor builds the caller identity from the verified claims.
// It is empty when the request carried no token.
func Descriptor(ctx context.Context) identity.Descriptor {
	claims, ok := GetClaims(ctx)
	if !ok {
		return identity.Descriptor{}
	}
	return identity.Descriptor{
		SessionID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
	}
}
