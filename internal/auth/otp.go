package auth

import (
	"context"
	"errors"
	"fmt"

	"flatfund.org/internal/ids"
	"flatfund.org/internal/obs"
)

// ChallengeReceipt acknowledges an issued sign-in code without
// revealing it.
type ChallengeReceipt struct {
	Email       string
	ApartmentID string
	ExpiresIn   int // minutes
}

// IssueChallenge creates a sign-in code for the (email, apartment) key,
// replacing any outstanding one, and hands it to the notifier. When
// delivery fails the challenge is deleted again so no undeliverable code
// stays live.
func (s *Service) IssueChallenge(ctx context.Context, email, apartmentID string) (*ChallengeReceipt, error) {
	email = normalizeEmail(email)
	if email == "" || apartmentID == "" {
		return nil, ErrInvalidInput
	}
	apt, err := s.apartment(ctx, apartmentID)
	if err != nil {
		return nil, err
	}

	code, err := randomDigits(s.otpDigits)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	now := s.now().UTC()
	ch := &OTPChallenge{
		ID:          ids.New(),
		Email:       email,
		ApartmentID: apt.ID,
		Code:        code,
		ExpiresAt:   now.Add(s.otpTTL),
	}
	if err := s.store.ReplaceChallenge(ctx, ch); err != nil {
		return nil, err
	}

	if err := s.notifier.SendOTP(ctx, email, apt.Name, code, s.otpTTL); err != nil {
		// Compensate: a challenge nobody received must not stay verifiable.
		if delErr := s.store.DeleteChallenge(ctx, ch.ID); delErr != nil {
			obs.LogEvent("auth.otp.rollback_failed", map[string]any{
				"challenge_id": ch.ID, "error": delErr.Error(),
			})
		}
		return nil, errors.Join(ErrDeliveryFailed, err)
	}

	obs.CountOTPIssued()
	return &ChallengeReceipt{
		Email:       email,
		ApartmentID: apt.ID,
		ExpiresIn:   int(s.otpTTL.Minutes()),
	}, nil
}

// VerifyChallenge consumes a sign-in code exactly once, then resolves the
// caller's role and returns the (possibly new) identity together with a
// fresh token pair. A failed match is classified for the caller:
// ErrAlreadyConsumed, ErrExpired or ErrInvalidCredential.
func (s *Service) VerifyChallenge(ctx context.Context, email, apartmentID, code string) (*Identity, *TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || apartmentID == "" || code == "" {
		return nil, nil, ErrInvalidInput
	}
	apt, err := s.apartment(ctx, apartmentID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	ch, err := s.store.FindActiveChallenge(ctx, email, apt.ID, code, now)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		reason := s.classifyChallenge(ctx, email, apt.ID, code)
		if isCredentialOutcome(reason) {
			obs.CountOTPVerified(outcomeLabel(reason))
		}
		return nil, nil, reason
	}
	if err := s.store.MarkChallengeVerified(ctx, ch.ID); err != nil {
		if errors.Is(err, ErrAlreadyConsumed) {
			obs.CountOTPVerified("consumed")
		}
		return nil, nil, err
	}

	identity, err := s.resolveSignInIdentity(ctx, email, apt)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.mintTokens(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	obs.CountOTPVerified("ok")
	return identity, pair, nil
}

// classifyChallenge explains a failed verification from stored state only.
// The relaxed lookup never authenticates; it exists purely so the client
// can tell "expired" from "already used" from "wrong code".
func (s *Service) classifyChallenge(ctx context.Context, email, apartmentID, code string) error {
	ch, err := s.store.FindChallenge(ctx, email, apartmentID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredential
		}
		return err
	}
	switch {
	case ch.Verified:
		return ErrAlreadyConsumed
	case !s.now().UTC().Before(ch.ExpiresAt):
		return ErrExpired
	default:
		return ErrInvalidCredential
	}
}

// SuggestedOccupancy returns flat details from the most recent invitation
// addressed to the email, used to pre-fill the profile after sign-in when
// the identity's own occupancy fields are still unset.
func (s *Service) SuggestedOccupancy(ctx context.Context, email, apartmentID string) (*Occupancy, error) {
	inv, err := s.store.LatestInvitationForEmail(ctx, apartmentID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Occupancy{FlatNumber: inv.FlatNumber, Floor: inv.Floor}, nil
}

// isCredentialOutcome separates credential failures from infrastructure
// errors, which must surface as-is instead of masquerading as a bad code.
func isCredentialOutcome(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyConsumed)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyConsumed):
		return "consumed"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "invalid"
	}
}
