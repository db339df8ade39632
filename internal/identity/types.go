package identity

import (
	"errors"
	"strings"
	"time"
)

// Role is the closed set of role names recognised by the platform.
// Capability checks always go through this type; raw strings are parsed at
// the boundary and rejected when unknown.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleNGO     Role = "ngo"
	RoleDonor   Role = "donor"
	RoleAdmin   Role = "admin"
)

var allRoles = map[Role]struct{}{
	RolePatient: {},
	RoleDoctor:  {},
	RoleNGO:     {},
	RoleDonor:   {},
	RoleAdmin:   {},
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := allRoles[r]; !ok {
		return "", errors.New("identity: unknown role " + raw)
	}
	return r, nil
}

// HasProfile reports whether accounts holding this role get a dedicated
// domain profile row at sign-up. Donor and admin operate on the account
// alone.
func (r Role) HasProfile() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleNGO:
		return true
	default:
		return false
	}
}

// Account is a durable identity record. Never hard-deleted except by
// explicit admin action; deactivation flips Active instead.
type Account struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	PasswordHash  string    `json:"-"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"email_verified"`
	PhoneVerified bool      `json:"phone_verified"`
	Roles         []Role    `json:"roles"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasRole reports whether the account holds the role.
func (a *Account) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleNames returns the roles as plain strings for token claims.
func (a *Account) RoleNames() []string {
	out := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		out = append(out, string(r))
	}
	return out
}
