package auth

import "time"

// Role is the local privilege level. It lives only in the user table and
// is never derived from provider claims.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdmin
}

// User is the local mirror of an externally authenticated identity.
// ID and ExternalSubjectID are immutable after creation; Email and
// DisplayName follow the provider claims on each successful authentication.
type User struct {
	ID                string    `json:"id"`
	ExternalSubjectID string    `json:"external_subject_id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"display_name"`
	Role              Role      `json:"role"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user may pass admin gates.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// ProfileMatches reports whether the stored profile already reflects the
// given claims, in which case reconciliation must not touch the row. An
// absent email claim carries no information and never counts as drift.
// Display name is not compared at all: after creation it belongs to the
// profile endpoint, not the provider.
func (u User) ProfileMatches(c VerifiedClaims) bool {
	return c.Email == "" || u.Email == c.Email
}
