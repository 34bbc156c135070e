package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devforum/internal/config"
	"devforum/internal/db"
	"devforum/internal/directory"
	"devforum/internal/notify"
	"devforum/internal/service"
	"devforum/internal/store"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "SecretPass123!"
)

type testEnv struct {
	router http.Handler
	st     *store.Store
	svc    *service.Service
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.Migrate(sqdb, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{
		ListenAddr:             ":8080",
		PublicBaseURL:          "http://localhost:8080",
		JWTSecret:              strings.Repeat("x", 32),
		JWTIssuer:              "devforum-test",
		AccessTokenTTL:         time.Hour,
		RefreshTokenTTL:        24 * time.Hour,
		SessionCookieName:      "devforum_session",
		CSRFCookieName:         "devforum_csrf",
		CookieSecureMode:       "auto",
		PasswordMinLength:      8,
		PasswordMaxLength:      128,
		ConfirmTokenTTL:        time.Hour,
		AdminRoleCacheTTL:      time.Minute,
		AdminRoleCacheSize:     16,
		AuthRateLimit:          100,
		AuthRateWindow:         time.Minute,
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: adminPassword,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	logger := slog.New(slog.DiscardHandler)
	st := store.New(sqdb)
	svc := service.New(cfg, st, directory.Noop{}, notify.NewSender(cfg, logger), logger)
	if err := svc.EnsureBootstrapAdmin(t.Context()); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	return &testEnv{router: NewRouter(cfg, svc, logger), st: st, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

type sessionBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
	CSRFToken    string `json:"csrf_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *testEnv) signIn(t *testing.T, email, password string) sessionBody {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/token?grant_type=password", "", map[string]string{"email": email, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign in %s: %d %s", email, rec.Code, rec.Body.String())
	}
	return decode[sessionBody](t, rec)
}

func (e *testEnv) signUp(t *testing.T, email string) sessionBody {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": "member pass 1",
		"data":     map[string]string{"name": "Member"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign up %s: %d %s", email, rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Session *sessionBody `json:"session"`
	}](t, rec)
	if out.Session == nil {
		t.Fatalf("sign up %s returned no session", email)
	}
	return *out.Session
}
