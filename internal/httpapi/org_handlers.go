package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orgauth.dev/internal/auth"
)

const maxInviteHours = int(auth.MaxInviteTTL / time.Hour)

type createOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type createInviteRequest struct {
	Email        string `json:"email"`
	RoleName     string `json:"roleName"`
	TempPassword string `json:"tempPassword,omitempty"`
	ExpiresHours int    `json:"expiresHours,omitempty"`
}

type createOwnerRequest struct {
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	TempPassword string `json:"tempPassword,omitempty"`
}

type inviteResponse struct {
	Invitation   *auth.Invite `json:"invitation"`
	TempPassword string       `json:"tempPassword,omitempty"`
	DisplayName  string       `json:"displayName,omitempty"`
}

func (a *API) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req createOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrgAsOwner(r.Context(), req.Name, req.Slug, p.ID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/platform/orgs/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleCreateOwner(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req createOwnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.CreateOrgOwner(r.Context(), auth.CreateOwnerInput{
		OrganizationID: chi.URLParam(r, "orgID"),
		OperatorID:     p.ID,
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		TempPassword:   req.TempPassword,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{
		Invitation:   res.Invite,
		TempPassword: res.TempPassword,
		DisplayName:  res.Invite.DisplayName,
	})
}

// handleCreateInvite lets an OWNER or ADMIN of the organization invite a user.
func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	orgID := chi.URLParam(r, "orgID")
	if _, err := a.guard.RequireRole(r.Context(), p.ID, orgID, auth.RoleOwner, auth.RoleAdmin); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.createInvite(w, r, auth.CreateInviteInput{OrganizationID: orgID, InvitedByUserID: p.ID})
}

// handleOperatorInvite is the initial-invite variant issued by a platform operator.
func (a *API) handleOperatorInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	a.createInvite(w, r, auth.CreateInviteInput{OrganizationID: chi.URLParam(r, "orgID"), ActorOperatorID: p.ID})
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request, in auth.CreateInviteInput) {
	var req createInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExpiresHours < 0 || req.ExpiresHours > maxInviteHours {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("expiresHours must be between 0 and %d", maxInviteHours))
		return
	}
	in.Email = req.Email
	in.RoleName = req.RoleName
	in.TempPassword = req.TempPassword
	in.TTL = time.Duration(req.ExpiresHours) * time.Hour

	res, err := a.svc.CreateInvite(r.Context(), in)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{Invitation: res.Invite, TempPassword: res.TempPassword})
}
