package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"devforum/internal/models"
	"devforum/internal/service"
	"devforum/internal/util"
)

func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.svc.ListTags(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	q := r.URL.Query()
	items, err := h.svc.ListPosts(r.Context(), models.PostQuery{
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Author:   q.Get("author"),
		Q:        q.Get("q"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string   `json:"category"`
		Title    string   `json:"title"`
		Body     string   `json:"body"`
		Tags     []string `json:"tags"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePost(r.Context(), principal(r), service.PostInput{
		Category: req.Category,
		Title:    req.Title,
		Body:     req.Body,
		Tags:     req.Tags,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePost(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.svc.ListComments(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.CreateComment(r.Context(), principal(r), chi.URLParam(r, "id"), req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteComment(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListQuestions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	q := r.URL.Query()
	items, err := h.svc.ListQuestions(r.Context(), models.QuestionQuery{
		Company: q.Get("company"),
		Q:       q.Get("q"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (h *Handlers) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Company  string `json:"company"`
		Role     string `json:"role"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.svc.CreateQuestion(r.Context(), principal(r), service.QuestionInput{
		Company:  req.Company,
		Role:     req.Role,
		Question: req.Question,
		Answer:   req.Answer,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, q)
}

func (h *Handlers) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteQuestion(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
