package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"devforum/internal/auth"
	"devforum/internal/authstate"
	"devforum/internal/config"
	"devforum/internal/directory"
	"devforum/internal/metrics"
	"devforum/internal/models"
	"devforum/internal/notify"
	"devforum/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrUserExists         = errors.New("user already registered")
	ErrInvalidGrant       = errors.New("invalid refresh token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrLastAdmin          = errors.New("cannot revoke the last administrator")
	ErrInvalidConfirm     = errors.New("confirmation link is invalid or expired")
)

var usernameRx = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]{1,31}$`)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// UserView is the public shape of an identity.
type UserView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	CreatedAt        time.Time  `json:"created_at"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time `json:"last_sign_in_at,omitempty"`
}

func viewOf(u models.User) UserView {
	return UserView{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt, EmailConfirmedAt: u.EmailConfirmedAt, LastSignInAt: u.LastSignInAt}
}

// SessionGrant is what a successful sign-in or refresh hands back.
type SessionGrant struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         UserView `json:"user"`
	SessionID    string   `json:"-"`
}

type SignUpResult struct {
	User                 UserView      `json:"user"`
	Session              *SessionGrant `json:"session"`
	ConfirmationRequired bool          `json:"confirmation_required"`
}

type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Username string
}

// ClientInfo is recorded on the session row.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Principal is an authenticated caller.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}

type Service struct {
	cfg      config.Config
	st       *store.Store
	dir      directory.Directory
	sender   notify.Sender
	tokens   *auth.TokenIssuer
	admin    *authstate.AdminResolver
	approval *authstate.ApprovalResolver
	guard    *authstate.Guard
	log      *slog.Logger
	now      func() time.Time
}

func New(cfg config.Config, st *store.Store, dir directory.Directory, sender notify.Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == nil {
		dir = directory.Noop{}
	}
	if sender == nil {
		sender = notify.NewSender(cfg, logger)
	}
	src := storeSource{st: st}
	admin := authstate.NewAdminResolver(src, cfg.AdminRoleCacheSize, cfg.AdminRoleCacheTTL, logger)
	return &Service{
		cfg:      cfg,
		st:       st,
		dir:      dir,
		sender:   sender,
		tokens:   auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL),
		admin:    admin,
		approval: authstate.NewApprovalResolver(src, admin, logger),
		guard:    authstate.NewGuard(authstate.DefaultRoutes()),
		log:      logger,
		now:      time.Now,
	}
}

func (s *Service) Config() config.Config { return s.cfg }

func (s *Service) Guard() *authstate.Guard { return s.guard }

func (s *Service) Ping(ctx context.Context) error { return s.st.Ping(ctx) }

// SignUp provisions an identity with an unapproved profile. When email
// confirmation is required no session is issued and a confirmation link is
// sent instead.
func (s *Service) SignUp(ctx context.Context, in SignUpInput, client ClientInfo) (SignUpResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return SignUpResult{}, err
	}
	if err := auth.CheckPasswordPolicy(in.Password, s.cfg.PasswordMinLength, s.cfg.PasswordMaxLength); err != nil {
		return SignUpResult{}, invalid("password", err.Error())
	}
	name := strings.TrimSpace(in.Name)
	if len(name) > 80 {
		return SignUpResult{}, invalid("name", "must be at most 80 characters")
	}
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username != "" && !usernameRx.MatchString(username) {
		return SignUpResult{}, invalid("username", "use 2-32 lowercase letters, digits, dot, dash or underscore")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return SignUpResult{}, err
	}
	confirmed := !s.cfg.RequireEmailConfirmation
	u, _, err := s.st.CreateUser(ctx, email, hash, name, username, confirmed)
	if errors.Is(err, store.ErrConflict) {
		return SignUpResult{}, ErrUserExists
	}
	if err != nil {
		return SignUpResult{}, err
	}
	metrics.AuthEventsTotal.WithLabelValues("signup").Inc()

	if !confirmed {
		raw, tokenHash, err := auth.NewOpaqueToken()
		if err != nil {
			return SignUpResult{}, err
		}
		if _, err := s.st.CreateConfirmToken(ctx, u.ID, tokenHash, s.now().UTC().Add(s.cfg.ConfirmTokenTTL)); err != nil {
			return SignUpResult{}, err
		}
		if err := s.sender.SendConfirmation(ctx, u.Email, raw); err != nil {
			s.log.Warn("confirmation notice failed", "user_id", u.ID, "error", err)
		}
		return SignUpResult{User: viewOf(u), ConfirmationRequired: true}, nil
	}

	grant, err := s.issueSession(ctx, u, client)
	if err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{User: grant.User, Session: &grant}, nil
}

// SignIn verifies a password. Approval is not checked here: an unapproved
// identity still gets a session and the gate decides what it may see.
func (s *Service) SignIn(ctx context.Context, email, password string, client ClientInfo) (SessionGrant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		auth.DummyVerify(password)
		metrics.AuthEventsTotal.WithLabelValues("signin_failed").Inc()
		return SessionGrant{}, ErrInvalidCredentials
	}
	if err != nil {
		return SessionGrant{}, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		metrics.AuthEventsTotal.WithLabelValues("signin_failed").Inc()
		return SessionGrant{}, ErrInvalidCredentials
	}
	if u.EmailConfirmedAt == nil && s.cfg.RequireEmailConfirmation {
		return SessionGrant{}, ErrEmailNotConfirmed
	}
	if auth.NeedsRehash(u.PasswordHash) {
		if h, err := auth.HashPassword(password); err == nil {
			if err := s.st.UpdatePasswordHash(ctx, u.ID, h); err != nil {
				s.log.Warn("password rehash failed", "user_id", u.ID, "error", err)
			}
		}
	}
	now := s.now().UTC()
	if err := s.st.TouchUserLastSignIn(ctx, u.ID, now); err != nil {
		return SessionGrant{}, err
	}
	u.LastSignInAt = &now
	metrics.AuthEventsTotal.WithLabelValues("signin").Inc()
	return s.issueSession(ctx, u, client)
}

func (s *Service) issueSession(ctx context.Context, u models.User, client ClientInfo) (SessionGrant, error) {
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return SessionGrant{}, err
	}
	now := s.now().UTC()
	sess := models.Session{
		ID:               uuid.NewString(),
		UserID:           u.ID,
		RefreshTokenHash: hash,
		IPHint:           client.IP,
		UserAgent:        truncate(client.UserAgent, 255),
		CreatedAt:        now,
		RefreshedAt:      now,
		ExpiresAt:        now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return SessionGrant{}, err
	}
	return s.grant(u, sess.ID, raw)
}

func (s *Service) grant(u models.User, sessionID, refresh string) (SessionGrant, error) {
	access, exp, err := s.tokens.Issue(u.ID, u.Email, sessionID)
	if err != nil {
		return SessionGrant{}, err
	}
	return SessionGrant{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.TTL() / time.Second),
		ExpiresAt:    exp.Unix(),
		User:         viewOf(u),
		SessionID:    sessionID,
	}, nil
}

// Refresh rotates the refresh token of a live session. Losing a rotation
// race on the same token counts as reuse and revokes every session of the
// owner.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (SessionGrant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return SessionGrant{}, ErrInvalidGrant
	}
	oldHash := auth.HashToken(refreshToken)
	sess, err := s.st.GetSessionByRefreshHash(ctx, oldHash)
	if errors.Is(err, store.ErrNotFound) {
		return SessionGrant{}, ErrInvalidGrant
	}
	if err != nil {
		return SessionGrant{}, err
	}
	now := s.now().UTC()
	if sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return SessionGrant{}, ErrInvalidGrant
	}
	raw, newHash, err := auth.NewOpaqueToken()
	if err != nil {
		return SessionGrant{}, err
	}
	if err := s.st.RotateSession(ctx, sess.ID, oldHash, newHash, now.Add(s.cfg.RefreshTokenTTL)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn("refresh token reuse detected", "user_id", sess.UserID, "session_id", sess.ID)
			if err := s.st.RevokeUserSessions(ctx, sess.UserID); err != nil {
				s.log.Error("revoke sessions after reuse failed", "user_id", sess.UserID, "error", err)
			}
			return SessionGrant{}, ErrInvalidGrant
		}
		return SessionGrant{}, err
	}
	u, err := s.st.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return SessionGrant{}, ErrInvalidGrant
	}
	if err != nil {
		return SessionGrant{}, err
	}
	metrics.AuthEventsTotal.WithLabelValues("token_refreshed").Inc()
	return s.grant(u, sess.ID, raw)
}

// SignOut revokes the session. Revoking twice is not an error.
func (s *Service) SignOut(ctx context.Context, p Principal) error {
	if p.SessionID == "" {
		return nil
	}
	if err := s.st.RevokeSession(ctx, p.SessionID); err != nil {
		return err
	}
	metrics.AuthEventsTotal.WithLabelValues("signout").Inc()
	return nil
}

// Authenticate checks an access token against its live session row.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	sess, err := s.st.GetSessionByID(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.RevokedAt != nil || sess.UserID != claims.Subject || !s.now().UTC().Before(sess.ExpiresAt) {
		return Principal{}, ErrUnauthorized
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, SessionID: sess.ID}, nil
}

func (s *Service) User(ctx context.Context, userID string) (UserView, error) {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return viewOf(u), nil
}

func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidConfirm
	}
	t, err := s.st.ConsumeConfirmToken(ctx, auth.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidConfirm
	}
	if err != nil {
		return err
	}
	if err := s.st.ConfirmUserEmail(ctx, t.UserID); err != nil {
		return err
	}
	metrics.AuthEventsTotal.WithLabelValues("email_confirmed").Inc()
	return nil
}

// Resolution computes the access state of an identity: admin role first,
// then the profile's approval flag. Lookups fail closed.
func (s *Service) Resolution(ctx context.Context, userID string) authstate.State {
	if userID == "" {
		return authstate.State{}
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return authstate.State{}
	}
	ident := &authstate.Identity{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
	isAdmin := s.admin.Resolve(ctx, ident)
	approved := isAdmin || s.approval.ProfileApproved(ctx, ident)
	return authstate.State{Identity: ident, Approved: approved, IsAdmin: isAdmin}
}

func (s *Service) Decide(ctx context.Context, userID string) (authstate.State, authstate.Decision) {
	st := s.Resolution(ctx, userID)
	return st, s.guard.Evaluate(st)
}

func (s *Service) IsAdmin(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	return s.admin.Resolve(ctx, &authstate.Identity{ID: userID})
}

// Profile returns a profile to its owner or to an administrator.
func (s *Service) Profile(ctx context.Context, actor Principal, userID string) (models.Profile, error) {
	if actor.UserID != userID && !s.IsAdmin(ctx, actor.UserID) {
		return models.Profile{}, ErrForbidden
	}
	return s.st.GetProfile(ctx, userID)
}

// Roles lists role rows to their owner or to an administrator.
func (s *Service) Roles(ctx context.Context, actor Principal, userID string) ([]models.RoleAssignment, error) {
	if actor.UserID != userID && !s.IsAdmin(ctx, actor.UserID) {
		return nil, ErrForbidden
	}
	return s.st.ListRoles(ctx, userID)
}

func (s *Service) UpdateOwnProfile(ctx context.Context, actor Principal, name, username string) (models.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 80 {
		return models.Profile{}, invalid("name", "must be 1-80 characters")
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username != "" && !usernameRx.MatchString(username) {
		return models.Profile{}, invalid("username", "use 2-32 lowercase letters, digits, dot, dash or underscore")
	}
	p, err := s.st.UpdateProfile(ctx, actor.UserID, name, username)
	if errors.Is(err, store.ErrConflict) {
		return models.Profile{}, invalid("username", "already taken")
	}
	return p, err
}

// EnsureBootstrapAdmin provisions the configured administrator, if any.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) error {
	if s.cfg.BootstrapAdminEmail == "" {
		return nil
	}
	email, err := normalizeEmail(s.cfg.BootstrapAdminEmail)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	hash, err := auth.HashPassword(s.cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	if err := s.st.EnsureAdmin(ctx, email, hash); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	s.admin.Purge()
	s.log.Info("bootstrap admin ensured", "email", email)
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", invalid("email", "is required")
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", invalid("email", "is not a valid address")
	}
	return email, nil
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
