package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"devforum/internal/captcha"
	"devforum/internal/config"
	"devforum/internal/metrics"
	"devforum/internal/middleware"
	"devforum/internal/rate"
	"devforum/internal/service"
	"devforum/internal/store"
	"devforum/internal/util"
	"devforum/internal/version"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
	captcha captcha.Verifier
	log     *slog.Logger
}

func NewRouter(cfg config.Config, svc *service.Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: rate.NewLimiter(),
		captcha: captcha.NewVerifier(cfg),
		log:     logger,
	}
	authLimit := func(route string) func(http.Handler) http.Handler {
		return middleware.RateLimit(h.limiter, route, cfg.AuthRateLimit, cfg.AuthRateWindow, cfg.TrustProxy)
	}
	csrf := middleware.CSRFFromCookie(cfg.CSRFCookieName)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(logger, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			util.WriteJSON(w, 200, version.Current())
		})

		r.With(authLimit("signup")).Post("/auth/signup", h.SignUp)
		r.With(authLimit("token")).Post("/auth/token", h.Token)
		r.Get("/auth/verify", h.Verify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuthn(h.svc, cfg.SessionCookieName))
			r.Get("/auth/state", h.AuthState)
			r.With(csrf).Post("/auth/logout", h.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc, cfg.SessionCookieName))
			r.Use(csrf)
			r.Get("/auth/user", h.CurrentUser)
			r.Get("/profiles/{id}", h.GetProfile)
			r.Put("/profiles/me", h.UpdateProfile)
			r.Get("/user_roles", h.ListUserRoles)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Gate(h.svc))
				r.Get("/categories", h.ListCategories)
				r.Get("/tags", h.ListTags)
				r.Get("/posts", h.ListPosts)
				r.Post("/posts", h.CreatePost)
				r.Get("/posts/{id}", h.GetPost)
				r.Delete("/posts/{id}", h.DeletePost)
				r.Get("/posts/{id}/comments", h.ListComments)
				r.Post("/posts/{id}/comments", h.CreateComment)
				r.Delete("/comments/{id}", h.DeleteComment)
				r.Get("/questions", h.ListQuestions)
				r.Post("/questions", h.CreateQuestion)
				r.Delete("/questions/{id}", h.DeleteQuestion)

				r.Route("/admin", func(r chi.Router) {
					r.Use(middleware.AdminOnly)
					r.Get("/profiles", h.AdminListProfiles)
					r.Post("/profiles/{id}/approve", h.AdminApproveProfile)
					r.Delete("/profiles/{id}", h.AdminRejectProfile)
					r.Post("/roles", h.AdminGrantRole)
					r.Delete("/roles/{user_id}/{role}", h.AdminRevokeRole)
					r.Get("/audit", h.AdminAuditLog)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "not_found", "no such route", middleware.RequestID(r.Context()))
	})
	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"version":    version.Current().Version,
	}
	comps := map[string]any{}
	ready["components"] = comps
	if err := h.svc.Ping(r.Context()); err != nil {
		comps["sqlite"] = map[string]any{"ok": false, "error": err.Error()}
		ready["status"] = "degraded"
		util.WriteJSON(w, 503, ready)
		return
	}
	comps["sqlite"] = map[string]any{"ok": true}
	ready["status"] = "ready"
	util.WriteJSON(w, 200, ready)
}

// fail maps service and store errors onto the wire error shape.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		util.WriteFieldError(w, verr.Field, verr.Error(), rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials", rid)
	case errors.Is(err, service.ErrEmailNotConfirmed):
		util.WriteError(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed", rid)
	case errors.Is(err, service.ErrUserExists):
		util.WriteError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered", rid)
	case errors.Is(err, service.ErrInvalidGrant):
		util.WriteError(w, http.StatusUnauthorized, "invalid_grant", "Invalid refresh token", rid)
	case errors.Is(err, service.ErrInvalidConfirm):
		util.WriteError(w, http.StatusBadRequest, "invalid_token", err.Error(), rid)
	case errors.Is(err, service.ErrUnauthorized):
		util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, http.StatusForbidden, "forbidden", "not allowed", rid)
	case errors.Is(err, captcha.ErrRejected):
		util.WriteError(w, http.StatusBadRequest, "captcha_required", "captcha verification failed", rid)
	case errors.Is(err, captcha.ErrUnavailable):
		h.log.Warn("captcha check unavailable", "request_id", rid, "error", err)
		util.WriteError(w, http.StatusServiceUnavailable, "captcha_unavailable", "captcha verification is unavailable, try again", rid)
	case errors.Is(err, service.ErrLastAdmin):
		util.WriteError(w, http.StatusConflict, "last_admin", err.Error(), rid)
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "not found", rid)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "already decided", rid)
	default:
		h.log.Error("request failed", "request_id", rid, "path", r.URL.Path, "error", err)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", rid)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return false
	}
	return true
}

func principal(r *http.Request) service.Principal {
	p, _ := middleware.Principal(r.Context())
	return p
}

// parsePagination accepts limit/offset, or page/page_size as the admin UI
// sends them. The service clamps the result.
func parsePagination(r *http.Request) (int, int) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, _ := strconv.Atoi(v)
		offset, _ := strconv.Atoi(q.Get("offset"))
		return service.Page(limit, offset)
	}
	page := 1
	pageSize := 25
	if v := q.Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := q.Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil {
			pageSize = ps
		}
	}
	limit, _ := service.Page(pageSize, 0)
	return limit, (page - 1) * limit
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, r *http.Request, accessToken, csrfToken string) {
	secure := h.cfg.ResolveCookieSecure(r)
	maxAge := int(h.cfg.AccessTokenTTL.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter, r *http.Request) {
	secure := h.cfg.ResolveCookieSecure(r)
	expiredAt := time.Unix(1, 0).UTC()
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{{h.cfg.SessionCookieName, true}, {h.cfg.CSRFCookieName, false}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			HttpOnly: c.httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  expiredAt,
		})
	}
}
