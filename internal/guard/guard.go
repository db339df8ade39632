// Package guard resolves bearer credentials into request-scoped principals
// and enforces capability and ownership checks for every mutating operation.
package guard

import (
	"context"
	"errors"
	"fmt"

	"healthpal.org/internal/identity"
	"healthpal.org/internal/token"
)

var (
	// ErrUnauthenticated covers missing/malformed/expired/revoked tokens and
	// unknown or inactive accounts.
	ErrUnauthenticated = errors.New("guard: unauthenticated")
	// ErrForbidden covers role and ownership mismatches.
	ErrForbidden = errors.New("guard: forbidden")
)

// Principal is the resolved caller identity attached to a request scope.
type Principal struct {
	AccountID string
	Roles     []identity.Role
	Profiles  map[identity.Role]string
}

// HasRole reports whether the principal holds the role.
func (p Principal) HasRole(role identity.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ProfileID returns the profile id the principal holds for the role.
func (p Principal) ProfileID(role identity.Role) (string, bool) {
	id, ok := p.Profiles[role]
	return id, ok
}

// Guard authenticates bearer tokens and performs authorization checks.
type Guard struct {
	tokens *token.Service
	store  identity.Store
}

// New constructs a Guard over the token service and identity store.
func New(tokens *token.Service, store identity.Store) *Guard {
	return &Guard{tokens: tokens, store: store}
}

// Authenticate resolves an access token into a Principal. Read-only: the
// only side effect a caller sees is the principal it gets back.
func (g *Guard) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	claims, err := g.tokens.Verify(ctx, bearer, token.KindAccess)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	acc, err := g.store.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if !acc.Active {
		return Principal{}, ErrUnauthenticated
	}
	profiles, err := g.store.Profiles(ctx, acc.ID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		AccountID: acc.ID,
		Roles:     acc.Roles,
		Profiles:  profiles,
	}, nil
}

// RequireRole fails with ErrForbidden unless the principal holds at least
// one of the allowed roles.
func RequireRole(p Principal, allowed ...identity.Role) error {
	for _, role := range allowed {
		if p.HasRole(role) {
			return nil
		}
	}
	return ErrForbidden
}

// RequireOwner checks that the resource's owning profile id matches the
// principal's profile for the role. Admins bypass ownership.
func RequireOwner(p Principal, role identity.Role, ownerProfileID string) error {
	if p.HasRole(identity.RoleAdmin) {
		return nil
	}
	id, ok := p.ProfileID(role)
	if !ok || id != ownerProfileID {
		return ErrForbidden
	}
	return nil
}
