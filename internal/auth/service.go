package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"flatfund.org/internal/directory"
)

const (
	defaultAccessTTL  = 30 * 24 * time.Hour // long-lived by product decision; override via WithAccessTTL
	defaultRefreshTTL = 60 * 24 * time.Hour
	defaultOTPTTL     = 10 * time.Minute
	defaultOTPDigits  = 6
	invitationTTL     = 7 * 24 * time.Hour
	invitationCodeLen = 6
)

const invitationAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service implements the identity and invitation lifecycle: OTP
// challenges, invitation redemption, role resolution and token issuance.
type Service struct {
	store      Store
	apartments directory.Apartments
	notifier   Notifier
	now        func() time.Time

	signingSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	otpTTL        time.Duration
	otpDigits     int
}

// Option configures Service behavior.
type Option func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithOTPTTL configures how long a sign-in code stays valid.
func WithOTPTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.otpTTL = ttl
		}
		return nil
	}
}

// WithOTPDigits configures the length of sign-in codes.
func WithOTPDigits(n int) Option {
	return func(s *Service) error {
		if n < 4 || n > 10 {
			return errors.New("auth: otp length must be between 4 and 10 digits")
		}
		s.otpDigits = n
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the lifecycle service. The signing secret is
// mandatory: there is no built-in default to fall back to.
func NewService(store Store, apartments directory.Apartments, notifier Notifier, signingSecret string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if apartments == nil {
		return nil, errors.New("auth: apartment directory is required")
	}
	if notifier == nil {
		return nil, errors.New("auth: notifier is required")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, errors.New("auth: signing secret is not configured")
	}
	s := &Service{
		store:         store,
		apartments:    apartments,
		notifier:      notifier,
		now:           time.Now,
		signingSecret: []byte(signingSecret),
		issuer:        "flatfund",
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		otpTTL:        defaultOTPTTL,
		otpDigits:     defaultOTPDigits,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) apartment(ctx context.Context, apartmentID string) (*directory.Apartment, error) {
	apt, err := s.apartments.Find(ctx, apartmentID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return apt, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// randomDigits returns n decimal digits from crypto/rand.
func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// randomInvitationCode returns an uppercase alphanumeric code.
func randomInvitationCode() (string, error) {
	var b strings.Builder
	b.Grow(invitationCodeLen)
	max := big.NewInt(int64(len(invitationAlphabet)))
	for i := 0; i < invitationCodeLen; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(invitationAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
