package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the occupancy role of an identity inside an apartment.
type Role string

const (
	// RoleAdmin is held only by the identity whose email matches the
	// apartment's admin email.
	RoleAdmin Role = "admin"
	// RoleOwner is the first occupant of a flat.
	RoleOwner Role = "owner"
	// RoleTenant is any subsequent occupant of an already-owned flat.
	RoleTenant Role = "tenant"
)

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOwner:
		return RoleOwner, true
	case RoleTenant:
		return RoleTenant, true
	default:
		return "", false
	}
}

// Identity is a resident record, unique per (email, apartment).
// Occupancy fields may be empty until the resident completes a profile
// or redeems an invitation that carries them.
type Identity struct {
	ID          int64
	FlatUUID    uuid.UUID
	ApartmentID string
	Email       string
	Role        Role
	FlatNumber  string
	Floor       *string
	Name        string
	Phone       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileComplete reports whether the resident filled every profile field.
// Floor counts as filled as soon as it is set, even to an empty string;
// some buildings use blank floor labels for single-level blocks.
func (i Identity) ProfileComplete() bool {
	return i.Name != "" && i.Phone != "" && i.FlatNumber != "" && i.Floor != nil
}

// OTPChallenge is a short-lived numeric code bound to an (email, apartment)
// key. At most one challenge is live per key; issuing a new one replaces it.
type OTPChallenge struct {
	ID          string
	Email       string
	ApartmentID string
	Code        string
	ExpiresAt   time.Time
	Verified    bool
	CreatedAt   time.Time
}

// Invitation binds an invitee email to a flat and floor, redeemable once.
type Invitation struct {
	ID          string
	ApartmentID string
	FlatNumber  string
	Floor       string
	Email       string
	Code        string
	IssuerEmail string
	ExpiresAt   time.Time
	Used        bool
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// RefreshToken is the server-side record of an opaque refresh credential.
// Only the sha256 hash of the secret half is stored.
type RefreshToken struct {
	ID         string
	IdentityID int64
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// TokenPair carries the freshly minted credentials of a session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Occupancy is a flat/floor suggestion surfaced during sign-in when the
// identity's own occupancy fields are still unset.
type Occupancy struct {
	FlatNumber string
	Floor      string
}
