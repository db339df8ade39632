package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"healthpal.org/internal/ids"
	"healthpal.org/internal/token"
)

// Service implements the credential flows: sign-up, login, refresh, logout.
// Token mechanics live in the token package; this layer ties them to
// durable accounts.
type Service struct {
	store  Store
	tokens *token.Service
}

// NewService wires the identity store to the token service.
func NewService(store Store, tokens *token.Service) *Service {
	return &Service{store: store, tokens: tokens}
}

// SignUpParams is the validated sign-up input.
type SignUpParams struct {
	Username string
	Email    string
	Password string
	FullName string
	Phone    string
	Roles    []string
}

// SignUp creates an account plus role profiles for profile-bearing roles.
// Returns ErrDuplicate when username or email is already taken.
func (s *Service) SignUp(ctx context.Context, p SignUpParams) (*Account, error) {
	username := strings.TrimSpace(p.Username)
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(p.Roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	roles := make([]Role, 0, len(p.Roles))
	seen := make(map[Role]struct{}, len(p.Roles))
	for _, raw := range p.Roles {
		role, err := ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if role == RoleAdmin {
			// admin accounts are provisioned out of band, never self-assigned
			return nil, fmt.Errorf("%w: role admin cannot be self-assigned", ErrInvalidInput)
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	acc := &Account{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(p.FullName),
		Phone:        strings.TrimSpace(p.Phone),
		PasswordHash: hash,
		Active:       true,
		Roles:        roles,
	}
	profiles := make(map[Role]string)
	for _, role := range roles {
		if role.HasProfile() {
			profiles[role] = ids.New()
		}
	}
	if err := s.store.Create(ctx, acc, profiles); err != nil {
		return nil, err
	}
	return acc, nil
}

// Login verifies credentials and issues a token pair. Wrong password,
// unknown email and inactive account are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (token.Pair, *Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return token.Pair{}, nil, ErrUnauthorized
	}
	acc, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, nil, ErrUnauthorized
		}
		return token.Pair{}, nil, err
	}
	if !acc.Active {
		return token.Pair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		return token.Pair{}, nil, ErrUnauthorized
	}
	pair, err := s.tokens.IssuePair(acc.ID, acc.RoleNames())
	if err != nil {
		return token.Pair{}, nil, err
	}
	return pair, acc, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The old refresh
// token stays valid until its own expiry (sliding refresh). The referenced
// account must still exist and be active.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	acc, err := s.store.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, ErrUnauthorized
		}
		return token.Pair{}, err
	}
	if !acc.Active {
		return token.Pair{}, ErrUnauthorized
	}
	// roles come from the store, not the old token, so revoked roles drop off
	return s.tokens.IssuePair(acc.ID, acc.RoleNames())
}

// Logout revokes the presented token for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, raw string) error {
	return s.tokens.Revoke(ctx, raw)
}
