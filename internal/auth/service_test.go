package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flatfund.org/internal/directory"
)

const (
	testApartmentID = "SUNRISE-01"
	testAdminEmail  = "admin@sunrise.test"
	testSecret      = "test-signing-secret"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubApartments struct {
	mu   sync.Mutex
	byID map[string]*directory.Apartment
}

func (s *stubApartments) Find(_ context.Context, apartmentID string) (*directory.Apartment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apt, ok := s.byID[apartmentID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	cp := *apt
	return &cp, nil
}

func (s *stubApartments) setAdmin(apartmentID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[apartmentID].AdminEmail = email
}

// stubNotifier records delivered codes so tests can replay them, and can
// be told to fail a given channel.
type stubNotifier struct {
	mu sync.Mutex

	failOTP        bool
	failInvitation bool
	failWelcome    bool

	lastOTP        string
	lastOTPTTL     time.Duration
	lastInvitation string
	welcomeCount   int
}

func (n *stubNotifier) SendOTP(_ context.Context, _ string, _ string, code string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOTP {
		return errors.New("smtp unavailable")
	}
	n.lastOTP = code
	n.lastOTPTTL = ttl
	return nil
}

func (n *stubNotifier) SendInvitation(_ context.Context, _ string, _ string, _ string, _ string, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failInvitation {
		return errors.New("smtp unavailable")
	}
	n.lastInvitation = code
	return nil
}

func (n *stubNotifier) SendWelcome(_ context.Context, _ string, _ string, _ string, _ string, _ Role) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWelcome {
		return errors.New("smtp unavailable")
	}
	n.welcomeCount++
	return nil
}

func (n *stubNotifier) otpCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastOTP
}

func (n *stubNotifier) otpTTL() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastOTPTTL
}

func (n *stubNotifier) invitationCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastInvitation
}

type testEnv struct {
	svc        *Service
	store      *InMemory
	apartments *stubApartments
	notifier   *stubNotifier
	clock      *testClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store := NewInMemory()
	apartments := &stubApartments{byID: map[string]*directory.Apartment{
		testApartmentID: {
			ID:         testApartmentID,
			Name:       "Sunrise Residence",
			Address:    "1 Sunrise Street",
			AdminEmail: testAdminEmail,
		},
	}}
	notifier := &stubNotifier{}
	clock := newTestClock()

	opts = append([]Option{WithClock(clock.now)}, opts...)
	svc, err := NewService(store, apartments, notifier, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{svc: svc, store: store, apartments: apartments, notifier: notifier, clock: clock}
}

// signIn drives the full OTP flow for an email and returns the result.
func (e *testEnv) signIn(t *testing.T, email string) (*Identity, *TokenPair) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.IssueChallenge(ctx, email, testApartmentID); err != nil {
		t.Fatalf("IssueChallenge(%s): %v", email, err)
	}
	identity, pair, err := e.svc.VerifyChallenge(ctx, email, testApartmentID, e.notifier.otpCode())
	if err != nil {
		t.Fatalf("VerifyChallenge(%s): %v", email, err)
	}
	return identity, pair
}

// invite creates an invitation as the admin and returns it with its code.
func (e *testEnv) invite(t *testing.T, flatNumber, floor, email string) *Invitation {
	t.Helper()
	inv, err := e.svc.CreateInvitation(context.Background(), testApartmentID, flatNumber, floor, email)
	if err != nil {
		t.Fatalf("CreateInvitation(%s): %v", email, err)
	}
	return inv
}

func TestNewServiceRequiresSigningSecret(t *testing.T) {
	_, err := NewService(NewInMemory(), &stubApartments{}, &stubNotifier{}, "   ")
	if err == nil {
		t.Fatal("expected error for blank signing secret")
	}
	if !strings.Contains(err.Error(), "signing secret") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithOTPDigitsRejectsOutOfRange(t *testing.T) {
	for _, n := range []int{3, 11, 0, -1} {
		_, err := NewService(NewInMemory(), &stubApartments{byID: map[string]*directory.Apartment{}}, &stubNotifier{}, testSecret, WithOTPDigits(n))
		if err == nil {
			t.Fatalf("expected error for %d digits", n)
		}
	}
}
