package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCreateInvitation(t *testing.T) {
	env := newTestEnv(t)

	inv := env.invite(t, " 12 ", "3", " Invitee@Sunrise.Test ")
	if inv.FlatNumber != "12" {
		t.Fatalf("flat number not trimmed: %q", inv.FlatNumber)
	}
	if inv.Email != "invitee@sunrise.test" {
		t.Fatalf("email not normalized: %q", inv.Email)
	}
	if inv.IssuerEmail != testAdminEmail {
		t.Fatalf("issuer email %q, want %q", inv.IssuerEmail, testAdminEmail)
	}
	if len(inv.Code) != 6 {
		t.Fatalf("expected 6-character code, got %q", inv.Code)
	}
	if got := inv.ExpiresAt.Sub(env.clock.now()); got != 7*24*time.Hour {
		t.Fatalf("expected 7 day expiry, got %v", got)
	}
	if inv.Code != env.notifier.invitationCode() {
		t.Fatalf("delivered code %q differs from stored %q", env.notifier.invitationCode(), inv.Code)
	}
}

func TestCreateInvitationRejectsDuplicateActive(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	_, err := env.svc.CreateInvitation(context.Background(), testApartmentID, "12", "3", "invitee@sunrise.test")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A different flat for the same email is fine.
	if _, err := env.svc.CreateInvitation(context.Background(), testApartmentID, "14", "3", "invitee@sunrise.test"); err != nil {
		t.Fatalf("different flat rejected: %v", err)
	}
}

func TestCreateInvitationAllowsReissueAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	env.clock.advance(8 * 24 * time.Hour)
	if _, err := env.svc.CreateInvitation(context.Background(), testApartmentID, "12", "3", "invitee@sunrise.test"); err != nil {
		t.Fatalf("reissue after expiry rejected: %v", err)
	}
}

func TestCreateInvitationDeliveryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.failInvitation = true

	_, err := env.svc.CreateInvitation(context.Background(), testApartmentID, "12", "3", "invitee@sunrise.test")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if n := len(env.store.invitations); n != 0 {
		t.Fatalf("undelivered invitation still stored, %d rows", n)
	}
}

func TestRedeemInvitationFirstOwnerThenTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.invite(t, "12", "3", "first@sunrise.test")
	first, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "first@sunrise.test", env.notifier.invitationCode())
	if err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if first.Role != RoleOwner {
		t.Fatalf("first occupant expected owner, got %s", first.Role)
	}
	if first.Floor == nil || *first.Floor != "3" {
		t.Fatalf("floor not inherited from invitation: %v", first.Floor)
	}

	env.invite(t, "12", "3", "second@sunrise.test")
	second, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "second@sunrise.test", env.notifier.invitationCode())
	if err != nil {
		t.Fatalf("second redemption: %v", err)
	}
	if second.Role != RoleTenant {
		t.Fatalf("second occupant expected tenant, got %s", second.Role)
	}
}

func TestRedeemInvitationIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.invite(t, "12", "3", "invitee@sunrise.test")
	code := env.notifier.invitationCode()
	if _, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", code); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	_, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", code)
	if !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed, got %v", err)
	}
}

func TestRedeemInvitationExpired(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	env.clock.advance(8 * 24 * time.Hour)
	_, err := env.svc.RedeemInvitation(context.Background(), "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", env.notifier.invitationCode())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRedeemInvitationWrongCode(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	_, err := env.svc.RedeemInvitation(context.Background(), "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", "WRONG1")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestRedeemInvitationApartmentNameMustMatch(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	_, err := env.svc.RedeemInvitation(context.Background(), "Sunset Residence", testApartmentID, "12", "invitee@sunrise.test", env.notifier.invitationCode())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemInvitationStaleIssuer(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "12", "3", "invitee@sunrise.test")

	// Admin handover after issuance invalidates the old admin's invitations.
	env.apartments.setAdmin(testApartmentID, "new-admin@sunrise.test")

	_, err := env.svc.RedeemInvitation(context.Background(), "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", env.notifier.invitationCode())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRedeemInvitationExistingOccupantEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.invite(t, "12", "3", "invitee@sunrise.test")
	code := env.notifier.invitationCode()
	if _, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", code); err != nil {
		t.Fatalf("first redemption: %v", err)
	}

	env.invite(t, "12", "3", "Invitee@Sunrise.Test")
	_, err := env.svc.RedeemInvitation(ctx, "Sunrise Residence", testApartmentID, "12", "Invitee@Sunrise.Test", env.notifier.invitationCode())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for repeat occupant, got %v", err)
	}
}

// ownerRaceStore injects one lost race on the owner claim: the first
// owner-role redemption fails with ErrConflict after a competitor takes
// the flat, mimicking the partial unique index under concurrency.
type ownerRaceStore struct {
	*InMemory
	fired bool
}

func (s *ownerRaceStore) RedeemInvitation(ctx context.Context, invitationID string, usedAt time.Time, identity *Identity) error {
	if !s.fired && identity.Role == RoleOwner {
		s.fired = true
		competitor := &Identity{
			FlatUUID:    uuid.New(),
			ApartmentID: identity.ApartmentID,
			Email:       "competitor@sunrise.test",
			Role:        RoleOwner,
			FlatNumber:  identity.FlatNumber,
		}
		if err := s.InMemory.CreateIdentity(ctx, competitor); err != nil {
			return err
		}
		return ErrConflict
	}
	return s.InMemory.RedeemInvitation(ctx, invitationID, usedAt, identity)
}

func TestRedeemInvitationOwnerRaceFallsBackToTenant(t *testing.T) {
	env := newTestEnv(t)
	race := &ownerRaceStore{InMemory: env.store}
	svc, err := NewService(race, env.apartments, env.notifier, testSecret, WithClock(env.clock.now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	inv, err := svc.CreateInvitation(context.Background(), testApartmentID, "12", "3", "invitee@sunrise.test")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	identity, err := svc.RedeemInvitation(context.Background(), "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", inv.Code)
	if err != nil {
		t.Fatalf("RedeemInvitation: %v", err)
	}
	if identity.Role != RoleTenant {
		t.Fatalf("race loser expected tenant, got %s", identity.Role)
	}
}

func TestUniqueInvitationCodeRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fill the store with an invitation, then force the next generated
	// code through the existence check; the loop must always land on a
	// code no stored invitation carries.
	env.invite(t, "12", "3", "a@sunrise.test")
	code, err := env.svc.uniqueInvitationCode(ctx)
	if err != nil {
		t.Fatalf("uniqueInvitationCode: %v", err)
	}
	if exists, _ := env.store.InvitationCodeExists(ctx, code); exists {
		t.Fatalf("generated code %q already in use", code)
	}
}

// invitationLookupFailStore fails the relaxed classification lookup the
// way an unreachable database would.
type invitationLookupFailStore struct {
	*InMemory
	err error
}

func (s *invitationLookupFailStore) FindInvitation(context.Context, string, string, string, string) (*Invitation, error) {
	return nil, s.err
}

func TestRedeemInvitationStoreOutageSurfaces(t *testing.T) {
	env := newTestEnv(t)
	dbErr := errors.New("connection refused")
	svc, err := NewService(&invitationLookupFailStore{InMemory: env.store, err: dbErr}, env.apartments, env.notifier, testSecret, WithClock(env.clock.now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.CreateInvitation(context.Background(), testApartmentID, "12", "3", "invitee@sunrise.test"); err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	_, err = svc.RedeemInvitation(context.Background(), "Sunrise Residence", testApartmentID, "12", "invitee@sunrise.test", "WRONG1")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredential) {
		t.Fatal("store outage must not be reported as a bad code")
	}
}
