// Package identity talks to the forum's identity and data API on behalf of
// a front-end process. HTTPProvider is the remote side of authstate.Client.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"devforum/internal/authstate"
	"devforum/internal/version"
)

// refreshSkew refreshes access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// APIError is a non-transient error response from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity api returned status %d (%s): %s", e.Status, e.Code, e.Message)
}

type Option func(*HTTPProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) {
		if c != nil {
			p.http = c
		}
	}
}

// WithSessionFile persists the session between processes.
func WithSessionFile(path string) Option {
	return func(p *HTTPProvider) { p.sessionFile = strings.TrimSpace(path) }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *HTTPProvider) {
		if l != nil {
			p.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *HTTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// HTTPProvider implements authstate.Provider, ProfileSource and RoleSource
// over the REST API. Events are emitted after the provider's own session has
// been updated and never while its lock is held.
type HTTPProvider struct {
	baseURL     string
	http        *http.Client
	sessionFile string
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	session *authstate.Session
	loaded  bool

	events authstate.Emitter[authstate.Event]
}

func New(baseURL string, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *HTTPProvider) OnAuthStateChange(fn func(authstate.Event)) *authstate.Subscription {
	return p.events.Subscribe(fn)
}

func (p *HTTPProvider) SignUp(ctx context.Context, email, password string, meta authstate.SignUpMetadata) (authstate.SignUpResult, error) {
	body := map[string]any{"email": email, "password": password, "data": meta}
	var out signUpPayload
	if err := p.requestJSON(ctx, http.MethodPost, "/api/v1/auth/signup", "", body, &out); err != nil {
		return authstate.SignUpResult{}, mapAuthError(err)
	}
	if err := out.User.validate(); err != nil {
		return authstate.SignUpResult{}, err
	}
	ident := out.User.identity()
	res := authstate.SignUpResult{Identity: &ident}
	if out.Session == nil {
		return res, authstate.ConfirmationRequired("Check your email to confirm your account")
	}
	if err := out.Session.validate(); err != nil {
		return res, err
	}
	sess := out.Session.session(p.now())
	p.store(sess)
	res.Session = sess
	p.events.Emit(authstate.Event{Kind: authstate.EventSignedIn, Session: sess})
	return res, nil
}

func (p *HTTPProvider) SignIn(ctx context.Context, email, password string) (*authstate.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var out sessionPayload
	if err := p.requestJSON(ctx, http.MethodPost, "/api/v1/auth/token?grant_type=password", "", body, &out); err != nil {
		return nil, mapAuthError(err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	sess := out.session(p.now())
	p.store(sess)
	p.events.Emit(authstate.Event{Kind: authstate.EventSignedIn, Session: sess})
	return sess, nil
}

// SignOut revokes the session remotely and forgets it locally. A session
// stored by a sign-in that finished while the revoke was in flight is kept.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.loadLocked()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := p.requestJSON(ctx, http.MethodPost, "/api/v1/auth/logout", sess.AccessToken, nil, nil)
	if p.clear(sess) {
		p.events.Emit(authstate.Event{Kind: authstate.EventSignedOut})
	} else {
		p.log.Debug("session replaced during sign-out, keeping it")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		// already revoked or expired on the server
		return nil
	}
	return err
}

// GetSession returns the current session, refreshing an expired access
// token first. A rejected refresh signs the session out.
func (p *HTTPProvider) GetSession(ctx context.Context) (*authstate.Session, error) {
	p.mu.Lock()
	p.loadLocked()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(p.now(), refreshSkew) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		p.store(nil)
		p.events.Emit(authstate.Event{Kind: authstate.EventSignedOut})
		return nil, nil
	}
	return p.refresh(ctx, sess)
}

func (p *HTTPProvider) refresh(ctx context.Context, old *authstate.Session) (*authstate.Session, error) {
	var out sessionPayload
	err := p.requestJSON(ctx, http.MethodPost, "/api/v1/auth/token?grant_type=refresh_token", "", map[string]string{"refresh_token": old.RefreshToken}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		p.log.Info("refresh rejected, signing out", "code", apiErr.Code)
		p.store(nil)
		p.events.Emit(authstate.Event{Kind: authstate.EventSignedOut})
		return nil, nil
	}
	if err != nil {
		return nil, mapAuthError(err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	sess := out.session(p.now())
	p.store(sess)
	p.events.Emit(authstate.Event{Kind: authstate.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// accessToken returns a usable bearer token or an error when signed out.
func (p *HTTPProvider) accessToken(ctx context.Context) (string, error) {
	sess, err := p.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "not signed in"}
	}
	return sess.AccessToken, nil
}

func (p *HTTPProvider) Profile(ctx context.Context, userID string) (authstate.Profile, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return authstate.Profile{}, err
	}
	var row profileRow
	if err := p.requestJSON(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(userID), token, nil, &row); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return authstate.Profile{}, authstate.ErrNotFound
		}
		return authstate.Profile{}, err
	}
	if err := row.validate(); err != nil {
		return authstate.Profile{}, err
	}
	return row.profile(), nil
}

func (p *HTTPProvider) Roles(ctx context.Context, userID string) ([]authstate.RoleAssignment, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []roleRow `json:"items"`
	}
	if err := p.requestJSON(ctx, http.MethodGet, "/api/v1/user_roles?user_id="+url.QueryEscape(userID), token, nil, &out); err != nil {
		return nil, err
	}
	roles := make([]authstate.RoleAssignment, 0, len(out.Items))
	for _, r := range out.Items {
		if err := r.validate(); err != nil {
			return nil, err
		}
		roles = append(roles, authstate.RoleAssignment{UserID: r.UserID, Role: r.Role})
	}
	return roles, nil
}

func (p *HTTPProvider) store(sess *authstate.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sess
	p.loaded = true
	if p.sessionFile == "" {
		return
	}
	if err := saveSession(p.sessionFile, sess); err != nil {
		p.log.Warn("persist session failed", "path", p.sessionFile, "err", err)
	}
}

// clear forgets the session only if it is still old.
func (p *HTTPProvider) clear(old *authstate.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != old {
		return false
	}
	p.session = nil
	p.loaded = true
	if p.sessionFile != "" {
		if err := saveSession(p.sessionFile, nil); err != nil {
			p.log.Warn("persist session failed", "path", p.sessionFile, "err", err)
		}
	}
	return true
}

func (p *HTTPProvider) loadLocked() {
	if p.loaded {
		return
	}
	p.loaded = true
	if p.sessionFile == "" {
		return
	}
	sess, err := loadSession(p.sessionFile)
	if err != nil {
		p.log.Warn("load session failed", "path", p.sessionFile, "err", err)
		return
	}
	p.session = sess
}

type statusError struct {
	StatusCode int
}

func (e statusError) Error() string {
	return fmt.Sprintf("identity api returned status %d", e.StatusCode)
}

func (p *HTTPProvider) requestJSON(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("client"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return authstate.NetworkError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return authstate.NetworkError(statusError{StatusCode: resp.StatusCode})
	case resp.StatusCode >= 400:
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// mapAuthError turns service error codes into tagged auth errors.
func mapAuthError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "invalid_credentials":
		return authstate.CredentialError(apiErr.Message)
	case "email_not_confirmed":
		return authstate.ConfirmationRequired(apiErr.Message)
	}
	return err
}
