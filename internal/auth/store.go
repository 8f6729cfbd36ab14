package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity and
// invitation lifecycle. Multi-step operations are transactional inside the
// implementation: either every row change commits or none does.
type Store interface {
	ChallengeStore
	IdentityStore
	InvitationStore
	RefreshTokenStore
}

// ChallengeStore owns OTP challenge rows.
type ChallengeStore interface {
	// ReplaceChallenge deletes any existing challenge for the
	// (email, apartment) key and inserts the new one in one transaction.
	ReplaceChallenge(ctx context.Context, ch *OTPChallenge) error

	// FindActiveChallenge matches email, apartment, code, not yet verified
	// and not expired as of now. Returns ErrNotFound on no match.
	FindActiveChallenge(ctx context.Context, email, apartmentID, code string, now time.Time) (*OTPChallenge, error)

	// FindChallenge matches email, apartment and code regardless of the
	// verified flag or expiry. Used only to classify failed verifications.
	FindChallenge(ctx context.Context, email, apartmentID, code string) (*OTPChallenge, error)

	// MarkChallengeVerified flips the verified flag exactly once; returns
	// ErrAlreadyConsumed if the row was already verified.
	MarkChallengeVerified(ctx context.Context, id string) error

	// DeleteChallenge removes a challenge whose delivery failed.
	DeleteChallenge(ctx context.Context, id string) error
}

// IdentityStore manages resident records shared by the sign-in and
// signup flows.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, id *Identity) error
	FindIdentity(ctx context.Context, id int64) (*Identity, error)
	FindIdentityByEmail(ctx context.Context, email, apartmentID string) (*Identity, error)
	FindFlatOccupant(ctx context.Context, apartmentID, flatNumber string) (*Identity, error)
	UpdateIdentityRole(ctx context.Context, id int64, role Role) error
	UpdateIdentityProfile(ctx context.Context, identity *Identity) error
}

// InvitationStore owns invitation rows.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error

	// FindActiveInvitationForFlat reports whether an unused, unexpired
	// invitation already exists for the (apartment, flat, email) triple.
	FindActiveInvitationForFlat(ctx context.Context, apartmentID, flatNumber, email string, now time.Time) (*Invitation, error)

	// InvitationCodeExists reports whether any stored invitation carries
	// the code. Drives the generate-and-retry uniqueness loop.
	InvitationCodeExists(ctx context.Context, code string) (bool, error)

	// FindActiveInvitation matches all of apartment, flat, email, code,
	// unused and unexpired.
	FindActiveInvitation(ctx context.Context, apartmentID, flatNumber, email, code string, now time.Time) (*Invitation, error)

	// FindInvitation matches apartment, flat, email and code regardless of
	// the used flag or expiry. Classification only.
	FindInvitation(ctx context.Context, apartmentID, flatNumber, email, code string) (*Invitation, error)

	// LatestInvitationForEmail returns the most recent invitation, in any
	// state, addressed to the email within the apartment.
	LatestInvitationForEmail(ctx context.Context, apartmentID, email string) (*Invitation, error)

	// RedeemInvitation marks the invitation used and creates the identity
	// in a single transaction. A unique-violation on the one-owner-per-flat
	// index surfaces as ErrConflict so the caller can re-resolve the role.
	RedeemInvitation(ctx context.Context, invitationID string, usedAt time.Time, identity *Identity) error

	// DeleteInvitation removes an invitation whose delivery failed.
	DeleteInvitation(ctx context.Context, id string) error
}

// RefreshTokenStore owns refresh token rows.
type RefreshTokenStore interface {
	// CreateRefreshToken revokes every non-revoked token of the same
	// identity and inserts the new one in a single transaction.
	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error

	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
}
