package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flatfund.org/internal/ids"
	"flatfund.org/internal/obs"
)

// maxCodeAttempts bounds the uniqueness retry loop. Collisions on a
// 36^6 space are vanishingly rare; running out means the store is lying.
const maxCodeAttempts = 10

// CreateInvitation issues a single-use invitation binding the invitee
// email to a flat and floor within the apartment. Only one active
// invitation may exist per (apartment, flat, email) triple. The code is
// re-sampled until the store reports no row carrying it. Delivery failure
// deletes the row again.
func (s *Service) CreateInvitation(ctx context.Context, apartmentID, flatNumber, floor, inviteeEmail string) (*Invitation, error) {
	inviteeEmail = normalizeEmail(inviteeEmail)
	flatNumber = strings.TrimSpace(flatNumber)
	if apartmentID == "" || flatNumber == "" || inviteeEmail == "" {
		return nil, ErrInvalidInput
	}
	apt, err := s.apartment(ctx, apartmentID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := s.store.FindActiveInvitationForFlat(ctx, apt.ID, flatNumber, inviteeEmail, now); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	code, err := s.uniqueInvitationCode(ctx)
	if err != nil {
		return nil, err
	}

	inv := &Invitation{
		ID:          ids.New(),
		ApartmentID: apt.ID,
		FlatNumber:  flatNumber,
		Floor:       floor,
		Email:       inviteeEmail,
		Code:        code,
		IssuerEmail: normalizeEmail(apt.AdminEmail),
		ExpiresAt:   now.Add(invitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	if err := s.notifier.SendInvitation(ctx, inviteeEmail, apt.Name, flatNumber, floor, code, invitationTTL); err != nil {
		if delErr := s.store.DeleteInvitation(ctx, inv.ID); delErr != nil {
			obs.LogEvent("auth.invitation.rollback_failed", map[string]any{
				"invitation_id": inv.ID, "error": delErr.Error(),
			})
		}
		return nil, errors.Join(ErrDeliveryFailed, err)
	}

	obs.CountInvitationCreated()
	return inv, nil
}

func (s *Service) uniqueInvitationCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomInvitationCode()
		if err != nil {
			return "", fmt.Errorf("generate invitation code: %w", err)
		}
		exists, err := s.store.InvitationCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("auth: could not generate a unique invitation code")
}

// RedeemInvitation consumes an invitation and creates the invitee's
// identity in the same transaction. The first occupant of the flat
// becomes OWNER, anyone after that TENANT; the invitee inherits the
// invitation's floor. The apartment name must match its record, and the
// invitation must still be signed by the apartment's current admin.
func (s *Service) RedeemInvitation(ctx context.Context, apartmentName, apartmentID, flatNumber, email, code string) (*Identity, error) {
	email = normalizeEmail(email)
	flatNumber = strings.TrimSpace(flatNumber)
	if apartmentID == "" || flatNumber == "" || email == "" || code == "" {
		return nil, ErrInvalidInput
	}
	apt, err := s.apartment(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apartmentName) != apt.Name {
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	inv, err := s.store.FindActiveInvitation(ctx, apt.ID, flatNumber, email, code, now)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		reason := s.classifyInvitation(ctx, apt.ID, flatNumber, email, code)
		if isCredentialOutcome(reason) {
			obs.CountInvitationRedeemed(outcomeLabel(reason))
		}
		return nil, reason
	}

	// An invitation outlives an admin handover only if the signer is still
	// the admin of record.
	if !strings.EqualFold(inv.IssuerEmail, apt.AdminEmail) {
		return nil, ErrForbidden
	}

	identity, err := s.redeemOnce(ctx, inv, email, now)
	if err != nil {
		return nil, err
	}

	obs.CountInvitationRedeemed("ok")
	if err := s.notifier.SendWelcome(ctx, email, apt.Name, identity.FlatNumber, inv.Floor, identity.Role); err != nil {
		obs.LogEvent("auth.welcome.delivery_failed", map[string]any{
			"email": email, "error": err.Error(),
		})
	}
	return identity, nil
}

// redeemOnce resolves the occupancy role and commits used-flag plus
// identity creation as one transaction. A lost race on the
// one-owner-per-flat index is retried a single time with the occupancy
// re-read, which turns the loser into a TENANT.
func (s *Service) redeemOnce(ctx context.Context, inv *Invitation, email string, now time.Time) (*Identity, error) {
	for attempt := 0; attempt < 2; attempt++ {
		role := RoleOwner
		occupant, err := s.store.FindFlatOccupant(ctx, inv.ApartmentID, inv.FlatNumber)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if occupant != nil {
			if strings.EqualFold(occupant.Email, email) {
				return nil, ErrConflict
			}
			role = RoleTenant
		}

		floor := inv.Floor
		identity := &Identity{
			FlatUUID:    uuid.New(),
			ApartmentID: inv.ApartmentID,
			Email:       email,
			Role:        role,
			FlatNumber:  inv.FlatNumber,
			Floor:       &floor,
		}
		err = s.store.RedeemInvitation(ctx, inv.ID, now, identity)
		if err == nil {
			return identity, nil
		}
		// Two first occupants raced; only retry the owner claim, and only once.
		if !errors.Is(err, ErrConflict) || role != RoleOwner {
			return nil, err
		}
	}
	return nil, ErrConflict
}

func (s *Service) classifyInvitation(ctx context.Context, apartmentID, flatNumber, email, code string) error {
	inv, err := s.store.FindInvitation(ctx, apartmentID, flatNumber, email, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredential
		}
		return err
	}
	switch {
	case inv.Used:
		return ErrAlreadyConsumed
	case !s.now().UTC().Before(inv.ExpiresAt):
		return ErrExpired
	default:
		return ErrInvalidCredential
	}
}
