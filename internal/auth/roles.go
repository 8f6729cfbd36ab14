package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"flatfund.org/internal/directory"
	"flatfund.org/internal/obs"
)

// resolveSignInIdentity finds or creates the identity behind a verified
// sign-in and settles its role. The apartment's admin email is the only
// source of ADMIN; everyone else entering through bare OTP sign-in is an
// OWNER. Existing OWNER/TENANT roles are kept as-is — the only role
// change this path performs is the flip into or out of ADMIN.
func (s *Service) resolveSignInIdentity(ctx context.Context, email string, apt *directory.Apartment) (*Identity, error) {
	isAdmin := strings.EqualFold(email, apt.AdminEmail)

	identity, err := s.store.FindIdentityByEmail(ctx, email, apt.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		role := RoleOwner
		if isAdmin {
			role = RoleAdmin
		}
		identity = &Identity{
			FlatUUID:    uuid.New(),
			ApartmentID: apt.ID,
			Email:       email,
			Role:        role,
		}
		if err := s.store.CreateIdentity(ctx, identity); err != nil {
			return nil, err
		}
		return identity, nil
	}

	switch {
	case isAdmin && identity.Role != RoleAdmin:
		identity.Role = RoleAdmin
	case !isAdmin && identity.Role == RoleAdmin:
		identity.Role = RoleOwner
	default:
		return identity, nil
	}
	if err := s.store.UpdateIdentityRole(ctx, identity.ID, identity.Role); err != nil {
		return nil, err
	}
	return identity, nil
}

// RoleChange reports an administrative role update.
type RoleChange struct {
	Identity *Identity
	OldRole  Role
	NewRole  Role
}

// UpdateRole converts a non-admin identity between OWNER and TENANT.
// The target must live in the caller's apartment. ADMIN can only belong
// to the apartment's admin email, and that email's identity can never be
// demoted.
func (s *Service) UpdateRole(ctx context.Context, callerApartmentID string, identityID int64, newRole Role) (*RoleChange, error) {
	identity, err := s.store.FindIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity.ApartmentID != callerApartmentID {
		return nil, ErrForbidden
	}
	apt, err := s.apartment(ctx, identity.ApartmentID)
	if err != nil {
		return nil, err
	}

	isAdminEmail := strings.EqualFold(identity.Email, apt.AdminEmail)
	if newRole == RoleAdmin && !isAdminEmail {
		return nil, ErrForbidden
	}
	if isAdminEmail && newRole != RoleAdmin {
		return nil, ErrForbidden
	}

	old := identity.Role
	if old != newRole {
		if err := s.store.UpdateIdentityRole(ctx, identity.ID, newRole); err != nil {
			return nil, err
		}
		identity.Role = newRole
	}
	obs.LogEvent("auth.role.updated", map[string]any{
		"identity_id": identity.ID,
		"old_role":    string(old),
		"new_role":    string(newRole),
	})
	return &RoleChange{Identity: identity, OldRole: old, NewRole: newRole}, nil
}

// Profile returns the identity by its numeric id.
func (s *Service) Profile(ctx context.Context, identityID int64) (*Identity, error) {
	return s.store.FindIdentity(ctx, identityID)
}

// ProfileUpdate carries the mutable profile fields. Nil pointers leave a
// field untouched; Floor deliberately accepts the empty string.
type ProfileUpdate struct {
	Name       *string
	Phone      *string
	FlatNumber *string
	Floor      *string
}

// UpdateProfile applies occupancy and contact changes to an identity.
func (s *Service) UpdateProfile(ctx context.Context, identityID int64, upd ProfileUpdate) (*Identity, error) {
	identity, err := s.store.FindIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		identity.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Phone != nil {
		identity.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.FlatNumber != nil {
		identity.FlatNumber = strings.TrimSpace(*upd.FlatNumber)
	}
	if upd.Floor != nil {
		floor := *upd.Floor
		identity.Floor = &floor
	}
	if err := s.store.UpdateIdentityProfile(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}
