package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"flatfund.org/internal/audit"
	"flatfund.org/internal/auth"
)

type signinRequest struct {
	ApartmentID string `json:"apt_id"`
	Email       string `json:"email"`
}

type verifyOTPRequest struct {
	ApartmentID string `json:"apt_id"`
	Email       string `json:"email"`
	Code        string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type inviteRequest struct {
	ApartmentID string `json:"apt_id"`
	FlatNumber  string `json:"flat_number"`
	Floor       string `json:"floor"`
	Email       string `json:"email"`
}

type signupRequest struct {
	ApartmentName string `json:"apartment_name"`
	ApartmentID   string `json:"apt_id"`
	FlatNumber    string `json:"flat_number"`
	Email         string `json:"email"`
	Code          string `json:"code"`
}

type roleUpdateRequest struct {
	Role string `json:"role"`
}

type profileUpdateRequest struct {
	Name       *string `json:"name"`
	Phone      *string `json:"phone"`
	FlatNumber *string `json:"flat_number"`
	Floor      *string `json:"floor"`
}

type tokenPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type identityPayload struct {
	ID              int64   `json:"id"`
	FlatUUID        string  `json:"flat_uuid"`
	ApartmentID     string  `json:"apt_id"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	FlatNumber      string  `json:"flat_number,omitempty"`
	Floor           *string `json:"floor,omitempty"`
	Name            string  `json:"name,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	ProfileComplete bool    `json:"profile_complete"`
}

type occupancyPayload struct {
	FlatNumber string `json:"flat_number"`
	Floor      string `json:"floor"`
}

func identityToPayload(id *auth.Identity) identityPayload {
	return identityPayload{
		ID:              id.ID,
		FlatUUID:        id.FlatUUID.String(),
		ApartmentID:     id.ApartmentID,
		Email:           id.Email,
		Role:            string(id.Role),
		FlatNumber:      id.FlatNumber,
		Floor:           id.Floor,
		Name:            id.Name,
		Phone:           id.Phone,
		ProfileComplete: id.ProfileComplete(),
	}
}

func tokensToPayload(pair *auth.TokenPair) tokenPayload {
	return tokenPayload{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := a.svc.IssueChallenge(r.Context(), req.Email, req.ApartmentID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.otp.issued", map[string]any{
		"apt_id": receipt.ApartmentID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             true,
		"message":            "OTP sent successfully to your email",
		"expires_in_minutes": receipt.ExpiresIn,
	})
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, pair, err := a.svc.VerifyChallenge(r.Context(), req.Email, req.ApartmentID, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	resp := map[string]any{
		"status":   true,
		"token":    tokensToPayload(pair),
		"identity": identityToPayload(identity),
	}
	if !identity.ProfileComplete() {
		occ, err := a.svc.SuggestedOccupancy(r.Context(), identity.Email, identity.ApartmentID)
		if err == nil && occ != nil {
			resp["suggested_occupancy"] = occupancyPayload{
				FlatNumber: occ.FlatNumber,
				Floor:      occ.Floor,
			}
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.otp.verified", map[string]any{
		"apt_id":      identity.ApartmentID,
		"identity_id": identity.ID,
		"role":        string(identity.Role),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, pair, err := a.svc.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.rotated", map[string]any{
		"identity_id": identity.ID,
	})
	writeJSON(w, http.StatusOK, tokensToPayload(pair))
}

func (a *API) handleInviteFlatmate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireRole(w, r, auth.RoleAdmin, auth.RoleOwner) {
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	// The role claim alone is not enough: an admin of one apartment must
	// not mint invitations into another.
	if strings.TrimSpace(req.ApartmentID) != claims.ApartmentID {
		writeError(w, r, http.StatusForbidden, "apartment mismatch")
		return
	}
	inv, err := a.svc.CreateInvitation(r.Context(), req.ApartmentID, req.FlatNumber, req.Floor, req.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.invitation.created", map[string]any{
		"invitation_id": inv.ID,
		"apt_id":        inv.ApartmentID,
		"flat_number":   inv.FlatNumber,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":          true,
		"invitation_id":   inv.ID,
		"apt_id":          inv.ApartmentID,
		"flat_number":     inv.FlatNumber,
		"floor":           inv.Floor,
		"invited_email":   inv.Email,
		"invitation_code": inv.Code,
		"expires_at":      inv.ExpiresAt,
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.svc.RedeemInvitation(r.Context(), req.ApartmentName, req.ApartmentID, req.FlatNumber, req.Email, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.invitation.redeemed", map[string]any{
		"apt_id":      identity.ApartmentID,
		"identity_id": identity.ID,
		"role":        string(identity.Role),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   true,
		"identity": identityToPayload(identity),
	})
}

// handleOwnProfile serves the authenticated resident's record.
func (a *API) handleOwnProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		identity, err := a.svc.Profile(r.Context(), claims.IdentityID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, identityToPayload(identity))
	case http.MethodPut:
		var req profileUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		identity, err := a.svc.UpdateProfile(r.Context(), claims.IdentityID, auth.ProfileUpdate{
			Name:       req.Name,
			Phone:      req.Phone,
			FlatNumber: req.FlatNumber,
			Floor:      req.Floor,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, identityToPayload(identity))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleIdentityScoped routes /v1/identities/{id}/role.
func (a *API) handleIdentityScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/identities/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "role" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	identityID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "identity id must be an integer")
		return
	}

	var req roleUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be one of admin, owner, tenant")
		return
	}

	change, err := a.svc.UpdateRole(r.Context(), claims.ApartmentID, identityID, role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.role.updated", map[string]any{
		"identity_id": change.Identity.ID,
		"old_role":    string(change.OldRole),
		"new_role":    string(change.NewRole),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   true,
		"old_role": string(change.OldRole),
		"new_role": string(change.NewRole),
		"identity": identityToPayload(change.Identity),
	})
}
