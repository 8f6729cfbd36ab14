package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueChallengeSendsCode(t *testing.T) {
	env := newTestEnv(t)

	receipt, err := env.svc.IssueChallenge(context.Background(), "  Resident@Sunrise.Test ", testApartmentID)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if receipt.Email != "resident@sunrise.test" {
		t.Fatalf("email was not normalized: %q", receipt.Email)
	}
	if receipt.ExpiresIn != 10 {
		t.Fatalf("expected 10 minute expiry, got %d", receipt.ExpiresIn)
	}
	code := env.notifier.otpCode()
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in code %q", code)
		}
	}
}

func TestIssueChallengeUnknownApartment(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.IssueChallenge(context.Background(), "resident@sunrise.test", "NO-SUCH")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueChallengeReplacesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "resident@sunrise.test"

	if _, err := env.svc.IssueChallenge(ctx, email, testApartmentID); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	first := env.notifier.otpCode()
	if _, err := env.svc.IssueChallenge(ctx, email, testApartmentID); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	second := env.notifier.otpCode()

	if first != second {
		if _, _, err := env.svc.VerifyChallenge(ctx, email, testApartmentID, first); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("stale code should be invalid, got %v", err)
		}
	}
	if _, _, err := env.svc.VerifyChallenge(ctx, email, testApartmentID, second); err != nil {
		t.Fatalf("current code rejected: %v", err)
	}
}

func TestIssueChallengeDeliveryFailureLeavesNoCode(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.failOTP = true
	ctx := context.Background()
	email := "resident@sunrise.test"

	_, err := env.svc.IssueChallenge(ctx, email, testApartmentID)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if n := len(env.store.challenges); n != 0 {
		t.Fatalf("undelivered challenge still stored, %d rows", n)
	}
}

func TestVerifyChallengeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "resident@sunrise.test"

	identity, pair := env.signIn(t, email)
	if identity.Email != email {
		t.Fatalf("unexpected identity email %q", identity.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	_, _, err := env.svc.VerifyChallenge(ctx, email, testApartmentID, env.notifier.otpCode())
	if !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed on replay, got %v", err)
	}
}

func TestVerifyChallengeExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "resident@sunrise.test"

	if _, err := env.svc.IssueChallenge(ctx, email, testApartmentID); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	env.clock.advance(11 * time.Minute)

	_, _, err := env.svc.VerifyChallenge(ctx, email, testApartmentID, env.notifier.otpCode())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyChallengeWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "resident@sunrise.test"

	if _, err := env.svc.IssueChallenge(ctx, email, testApartmentID); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	wrong := "000000"
	if env.notifier.otpCode() == wrong {
		wrong = "000001"
	}
	_, _, err := env.svc.VerifyChallenge(ctx, email, testApartmentID, wrong)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyChallengeAssignsAdminByEmail(t *testing.T) {
	env := newTestEnv(t)

	admin, _ := env.signIn(t, testAdminEmail)
	if admin.Role != RoleAdmin {
		t.Fatalf("admin email expected RoleAdmin, got %s", admin.Role)
	}
	resident, _ := env.signIn(t, "resident@sunrise.test")
	if resident.Role != RoleOwner {
		t.Fatalf("fresh resident expected RoleOwner, got %s", resident.Role)
	}
}

func TestVerifyChallengeDemotesFormerAdmin(t *testing.T) {
	env := newTestEnv(t)

	former, _ := env.signIn(t, testAdminEmail)
	if former.Role != RoleAdmin {
		t.Fatalf("expected RoleAdmin, got %s", former.Role)
	}

	env.apartments.setAdmin(testApartmentID, "new-admin@sunrise.test")

	again, _ := env.signIn(t, testAdminEmail)
	if again.Role != RoleOwner {
		t.Fatalf("former admin expected RoleOwner after handover, got %s", again.Role)
	}
	successor, _ := env.signIn(t, "new-admin@sunrise.test")
	if successor.Role != RoleAdmin {
		t.Fatalf("successor expected RoleAdmin, got %s", successor.Role)
	}
}

func TestSuggestedOccupancy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := "invitee@sunrise.test"

	occ, err := env.svc.SuggestedOccupancy(ctx, email, testApartmentID)
	if err != nil || occ != nil {
		t.Fatalf("expected no suggestion, got %+v, %v", occ, err)
	}

	env.invite(t, "12", "3", email)

	occ, err = env.svc.SuggestedOccupancy(ctx, email, testApartmentID)
	if err != nil {
		t.Fatalf("SuggestedOccupancy: %v", err)
	}
	if occ == nil || occ.FlatNumber != "12" || occ.Floor != "3" {
		t.Fatalf("unexpected suggestion: %+v", occ)
	}
}

func TestVerifyChallengeBlankInput(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.svc.VerifyChallenge(context.Background(), "", testApartmentID, "123456"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.svc.IssueChallenge(context.Background(), "a@b.c", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIssueChallengeTTLReachesNotifier(t *testing.T) {
	env := newTestEnv(t, WithOTPTTL(5*time.Minute))

	receipt, err := env.svc.IssueChallenge(context.Background(), "resident@sunrise.test", testApartmentID)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if receipt.ExpiresIn != 5 {
		t.Fatalf("receipt reports %d minutes, want 5", receipt.ExpiresIn)
	}
	if got := env.notifier.otpTTL(); got != 5*time.Minute {
		t.Fatalf("notifier received ttl %v, want 5m", got)
	}
}

// challengeLookupFailStore fails the relaxed classification lookup the way
// an unreachable database would.
type challengeLookupFailStore struct {
	*InMemory
	err error
}

func (s *challengeLookupFailStore) FindChallenge(context.Context, string, string, string) (*OTPChallenge, error) {
	return nil, s.err
}

func TestVerifyChallengeStoreOutageSurfaces(t *testing.T) {
	env := newTestEnv(t)
	dbErr := errors.New("connection refused")
	svc, err := NewService(&challengeLookupFailStore{InMemory: env.store, err: dbErr}, env.apartments, env.notifier, testSecret, WithClock(env.clock.now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.IssueChallenge(context.Background(), "resident@sunrise.test", testApartmentID); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	_, _, err = svc.VerifyChallenge(context.Background(), "resident@sunrise.test", testApartmentID, "not-the-code")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredential) {
		t.Fatal("store outage must not be reported as a bad code")
	}
}
