package auth

import (
	"context"
	"strings"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
)

// Role constants carried in the "role" custom claim.
const (
	RoleUser          = string(domain.RoleUser)
	RoleDoctor        = string(domain.RoleDoctor)
	RoleClinicAdmin   = string(domain.RoleClinicAdmin)
	RolePlatformAdmin = string(domain.RolePlatformAdmin)
)

// rolePrecedence orders roles from most to least privileged; an identity holding several roles
// acts under the first match.
var rolePrecedence = []string{RolePlatformAdmin, RoleClinicAdmin, RoleDoctor, RoleUser}

// Identity is the Firebase user behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	for _, r := range i.Roles {
		if role != "" && strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Actor projects the identity onto the principal the services authorise against.
func (i *Identity) Actor() (domain.Actor, bool) {
	if i == nil || strings.TrimSpace(i.UID) == "" {
		return domain.Actor{}, false
	}
	for _, role := range rolePrecedence {
		if i.HasRole(role) {
			return domain.Actor{ID: i.UID, Role: domain.Role(role)}, true
		}
	}
	return domain.Actor{}, false
}

// ActorFromContext resolves the authenticated actor stored by RequireFirebaseAuth.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.Actor{}, false
	}
	return identity.Actor()
}

type (
	identityKey         struct{}
	identityObserverKey struct{}
)

// WithIdentityObserver registers fn to hear about the identity stored further down the handler
// chain. Request logging uses it to report who made a request after the fact.
func WithIdentityObserver(ctx context.Context, fn func(*Identity)) context.Context {
	return context.WithValue(ctx, identityObserverKey{}, fn)
}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if observe, ok := ctx.Value(identityObserverKey{}).(func(*Identity)); ok && observe != nil {
		observe(identity)
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
