package auth

import (
	"context"
)

// Roles recognised by the API. Every account holds exactly one.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	claims *Claims
}

// Claims exposes the verified token claims behind this identity.
func (i *Identity) Claims() *Claims {
	if i == nil {
		return nil
	}
	return i.claims
}

// HasRole reports whether the identity holds the given role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, held := range i.Roles {
		if normaliseRole(held) == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type identityKey struct{}

// WithIdentity stores the identity in the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
