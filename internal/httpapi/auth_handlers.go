package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orgauth.dev/internal/audit"
	"orgauth.dev/internal/auth"
	"orgauth.dev/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token              string    `json:"token"`
	MustChangePassword bool      `json:"mustChangePassword"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type acceptInviteRequest struct {
	Email        string `json:"email"`
	TempPassword string `json:"tempPassword"`
	NewPassword  string `json:"newPassword"`
}

type acceptInviteResponse struct {
	User       *auth.User       `json:"user"`
	Membership *auth.Membership `json:"membership"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	a.recordLogin(r, auth.KindUser, req.Email, err)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:              res.Token,
		MustChangePassword: res.MustChangePassword,
		ExpiresAt:          res.ExpiresAt,
	})
}

func (a *API) handleOperatorLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.OperatorLogin(r.Context(), req.Email, req.Password)
	a.recordLogin(r, auth.KindPlatform, req.Email, err)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt})
}

func (a *API) recordLogin(r *http.Request, kind auth.PrincipalKind, email string, err error) {
	outcome := loginOutcome(err)
	obs.ObserveLogin(string(kind), outcome)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"kind":    string(kind),
		"email":   email,
		"outcome": outcome,
	})
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrInvitationExpired):
		return "invitation_expired"
	case errors.Is(err, auth.ErrInviteNotPending):
		return "invite_not_pending"
	default:
		return "error"
	}
}

// handleLogout revokes whatever bearer token was presented and always
// answers 204; it is not an authentication check.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err == nil {
		a.svc.Logout(r.Context(), token)
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p.Email, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.AcceptInvite(r.Context(), auth.AcceptInviteInput{
		InviteID:     chi.URLParam(r, "inviteID"),
		Email:        req.Email,
		TempPassword: req.TempPassword,
		NewPassword:  req.NewPassword,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptInviteResponse{User: res.User, Membership: res.Membership})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	user, err := a.svc.Profile(r.Context(), p.ID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	memberships, err := a.svc.MembershipsOf(r.Context(), p.ID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []*auth.Membership{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": memberships})
}
