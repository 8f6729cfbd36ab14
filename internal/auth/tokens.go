package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flatfund.org/internal/ids"
	"flatfund.org/internal/obs"
)

// Claims are the verified contents of an access token. The subject is the
// identity's flat UUID — an opaque reference, never a display string.
type Claims struct {
	IdentityID  int64  `json:"identity_id"`
	ApartmentID string `json:"apt_id"`
	Role        Role   `json:"role"`
	jwt.RegisteredClaims
}

// mintTokens issues a fresh access/refresh pair for the identity.
func (s *Service) mintTokens(ctx context.Context, identity *Identity) (*TokenPair, error) {
	now := s.now().UTC()
	access, accessExp, err := s.signAccessToken(identity, now)
	if err != nil {
		return nil, err
	}
	refresh, rec, err := s.generateRefreshToken(identity.ID, now)
	if err != nil {
		return nil, err
	}
	// Creation revokes every other live refresh token of the identity:
	// one active session family at a time.
	if err := s.store.CreateRefreshToken(ctx, rec); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(identity *Identity, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		IdentityID:  identity.ID,
		ApartmentID: identity.ApartmentID,
		Role:        identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.FlatUUID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccessToken verifies the signature and standard claims of an
// access token. There is no revocation list; a valid signature inside the
// expiry window is trusted.
func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnauthorized
		}
		return s.signingSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time {
		return s.now().UTC()
	}))
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// generateRefreshToken builds an opaque `<id>.<secret>` credential with a
// 256-bit secret. Only the sha256 of the secret is persisted.
func (s *Service) generateRefreshToken(identityID int64, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:         ids.New(),
		IdentityID: identityID,
		TokenHash:  hex.EncodeToString(sum[:]),
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	return rec.ID + "." + secret, rec, nil
}

// Rotate exchanges a refresh token for a fresh pair. The presented token
// is revoked whether or not the exchange succeeds past the lookup: any
// miss — unknown, revoked, expired or bad secret — is a bare
// ErrUnauthorized so a replayed token learns nothing.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (*Identity, *TokenPair, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		obs.CountRefreshRotation("rejected")
		return nil, nil, ErrUnauthorized
	}

	rec, err := s.store.FindRefreshToken(ctx, tokenID)
	if err != nil {
		obs.CountRefreshRotation("rejected")
		return nil, nil, ErrUnauthorized
	}
	now := s.now().UTC()
	if rec.Revoked || now.After(rec.ExpiresAt) {
		obs.CountRefreshRotation("rejected")
		return nil, nil, ErrUnauthorized
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		// Wrong secret against a live id smells like token theft; burn it.
		if burnErr := s.store.RevokeRefreshToken(ctx, rec.ID); burnErr != nil {
			obs.LogEvent("auth.token.burn_failed", map[string]any{
				"token_id": rec.ID, "error": burnErr.Error(),
			})
		}
		obs.CountRefreshRotation("rejected")
		return nil, nil, ErrUnauthorized
	}

	identity, err := s.store.FindIdentity(ctx, rec.IdentityID)
	if err != nil {
		obs.CountRefreshRotation("rejected")
		return nil, nil, ErrUnauthorized
	}

	if err := s.store.RevokeRefreshToken(ctx, rec.ID); err != nil {
		return nil, nil, err
	}
	pair, err := s.mintTokens(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	obs.CountRefreshRotation("ok")
	return identity, pair, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
