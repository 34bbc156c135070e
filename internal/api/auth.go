package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"devforum/internal/middleware"
	"devforum/internal/service"
	"devforum/internal/util"
)

type signUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
	Data         struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

type tokenResponse struct {
	service.SessionGrant
	CSRFToken string `json:"csrf_token,omitempty"`
}

func (h *Handlers) client(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IP: middleware.ClientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent()}
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client := h.client(r)
	if err := h.captcha.Verify(r.Context(), req.CaptchaToken, client.IP); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.SignUp(r.Context(), service.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Data.Name,
		Username: req.Data.Username,
	}, client)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Session != nil {
		h.setAuthCookies(w, r, res.Session.AccessToken, randomToken())
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// Token implements the password and refresh_token grants.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	var (
		grant service.SessionGrant
		err   error
	)
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		grant, err = h.svc.SignIn(r.Context(), req.Email, req.Password, h.client(r))
	case "refresh_token":
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		grant, err = h.svc.Refresh(r.Context(), req.RefreshToken)
	default:
		util.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be password or refresh_token", middleware.RequestID(r.Context()))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	csrfToken := randomToken()
	h.setAuthCookies(w, r, grant.AccessToken, csrfToken)
	util.WriteJSON(w, http.StatusOK, tokenResponse{SessionGrant: grant, CSRFToken: csrfToken})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if p, ok := middleware.Principal(r.Context()); ok {
		if err := h.svc.SignOut(r.Context(), p); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.clearAuthCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ConfirmEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.User(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, u)
}

// AuthState reports the guard decision the server computes for the caller.
func (h *Handlers) AuthState(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.Principal(r.Context())
	st, d := h.svc.Decide(r.Context(), p.UserID)
	out := map[string]any{
		"phase":    d.Phase.String(),
		"view":     d.View,
		"redirect": d.Redirect,
		"approved": st.Approved,
		"is_admin": st.IsAdmin,
		"user":     st.Identity,
	}
	util.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.UpdateOwnProfile(r.Context(), principal(r), req.Name, req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = principal(r).UserID
	}
	items, err := h.svc.Roles(r.Context(), principal(r), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
