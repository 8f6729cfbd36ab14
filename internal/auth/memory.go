package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and local development; production deployments use PGStore.
type InMemory struct {
	mu          sync.Mutex
	challenges  map[string]*OTPChallenge
	identities  map[int64]*Identity
	invitations map[string]*Invitation
	tokens      map[string]*RefreshToken
	nextID      int64
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		challenges:  make(map[string]*OTPChallenge),
		identities:  make(map[int64]*Identity),
		invitations: make(map[string]*Invitation),
		tokens:      make(map[string]*RefreshToken),
	}
}

// Challenges ---------------------------------------------------------------

func (s *InMemory) ReplaceChallenge(_ context.Context, ch *OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.challenges {
		if existing.Email == ch.Email && existing.ApartmentID == ch.ApartmentID {
			delete(s.challenges, id)
		}
	}
	cp := *ch
	cp.CreatedAt = time.Now().UTC()
	s.challenges[ch.ID] = &cp
	return nil
}

func (s *InMemory) FindActiveChallenge(_ context.Context, email, apartmentID, code string, now time.Time) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.Email == email && ch.ApartmentID == apartmentID && ch.Code == code &&
			!ch.Verified && ch.ExpiresAt.After(now) {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindChallenge(_ context.Context, email, apartmentID, code string) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.Email == email && ch.ApartmentID == apartmentID && ch.Code == code {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) MarkChallengeVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.Verified {
		return ErrAlreadyConsumed
	}
	ch.Verified = true
	return nil
}

func (s *InMemory) DeleteChallenge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}

// Identities ---------------------------------------------------------------

func (s *InMemory) CreateIdentity(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertIdentityLocked(identity)
}

// insertIdentityLocked enforces the same constraints as the SQL schema:
// unique (apartment, email) and at most one owner per occupied flat.
func (s *InMemory) insertIdentityLocked(identity *Identity) error {
	for _, existing := range s.identities {
		if existing.ApartmentID == identity.ApartmentID &&
			strings.EqualFold(existing.Email, identity.Email) {
			return ErrConflict
		}
		if identity.Role == RoleOwner && existing.Role == RoleOwner &&
			existing.ApartmentID == identity.ApartmentID &&
			identity.FlatNumber != "" && existing.FlatNumber == identity.FlatNumber {
			return ErrConflict
		}
	}
	s.nextID++
	identity.ID = s.nextID
	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

func (s *InMemory) FindIdentity(_ context.Context, id int64) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (s *InMemory) FindIdentityByEmail(_ context.Context, email, apartmentID string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.ApartmentID == apartmentID && strings.EqualFold(identity.Email, email) {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindFlatOccupant(_ context.Context, apartmentID, flatNumber string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, identity := range s.identities {
		if identity.ApartmentID == apartmentID && identity.FlatNumber == flatNumber {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cp := *s.identities[ids[0]]
	return &cp, nil
}

func (s *InMemory) UpdateIdentityRole(_ context.Context, id int64, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.Role = role
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) UpdateIdentityProfile(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.identities[identity.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = identity.Name
	existing.Phone = identity.Phone
	existing.FlatNumber = identity.FlatNumber
	existing.Floor = identity.Floor
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// Invitations --------------------------------------------------------------

func (s *InMemory) CreateInvitation(_ context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invitations {
		if existing.Code == inv.Code {
			return ErrConflict
		}
	}
	cp := *inv
	cp.CreatedAt = time.Now().UTC()
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *InMemory) FindActiveInvitationForFlat(_ context.Context, apartmentID, flatNumber, email string, now time.Time) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.ApartmentID == apartmentID && inv.FlatNumber == flatNumber &&
			strings.EqualFold(inv.Email, email) && !inv.Used && inv.ExpiresAt.After(now) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) InvitationCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) FindActiveInvitation(_ context.Context, apartmentID, flatNumber, email, code string, now time.Time) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.ApartmentID == apartmentID && inv.FlatNumber == flatNumber &&
			strings.EqualFold(inv.Email, email) && inv.Code == code &&
			!inv.Used && inv.ExpiresAt.After(now) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindInvitation(_ context.Context, apartmentID, flatNumber, email, code string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.ApartmentID == apartmentID && inv.FlatNumber == flatNumber &&
			strings.EqualFold(inv.Email, email) && inv.Code == code {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) LatestInvitationForEmail(_ context.Context, apartmentID, email string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Invitation
	for _, inv := range s.invitations {
		if inv.ApartmentID != apartmentID || !strings.EqualFold(inv.Email, email) {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *InMemory) RedeemInvitation(_ context.Context, invitationID string, usedAt time.Time, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		return ErrNotFound
	}
	if inv.Used {
		return ErrAlreadyConsumed
	}
	if err := s.insertIdentityLocked(identity); err != nil {
		return err
	}
	inv.Used = true
	t := usedAt
	inv.UsedAt = &t
	return nil
}

func (s *InMemory) DeleteInvitation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invitations, id)
	return nil
}

// Refresh tokens -----------------------------------------------------------

func (s *InMemory) CreateRefreshToken(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.IdentityID == tok.IdentityID {
			existing.Revoked = true
		}
	}
	cp := *tok
	cp.CreatedAt = time.Now().UTC()
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *InMemory) FindRefreshToken(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *InMemory) RevokeRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}
