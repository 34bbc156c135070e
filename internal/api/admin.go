package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"devforum/internal/models"
	"devforum/internal/util"
)

func (h *Handlers) AdminListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	q := r.URL.Query()
	items, total, err := h.svc.ListProfiles(r.Context(), models.ProfileQuery{
		Status: q.Get("status"),
		Q:      q.Get("q"),
		Order:  q.Get("order"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (h *Handlers) AdminApproveProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ApproveProfile(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) AdminRejectProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RejectProfile(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), r.URL.Query().Get("reason")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminGrantRole(w http.ResponseWriter, r *http.Request) {
	var req models.RoleAssignment
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.GrantRole(r.Context(), principal(r).UserID, req.UserID, req.Role); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID, "role": req.Role})
}

func (h *Handlers) AdminRevokeRole(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeRole(r.Context(), principal(r).UserID, chi.URLParam(r, "user_id"), chi.URLParam(r, "role")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	q := r.URL.Query()
	items, err := h.svc.ListAudit(r.Context(), models.AuditQuery{
		Action: q.Get("action"),
		Actor:  q.Get("actor"),
		Target: q.Get("target"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}
