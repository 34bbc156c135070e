package identity

import (
	"fmt"
	"strings"
	"time"

	"devforum/internal/authstate"
)

type userRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u userRow) validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user row has empty id")
	}
	return nil
}

func (u userRow) identity() authstate.Identity {
	return authstate.Identity{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

type sessionPayload struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	ExpiresAt    int64   `json:"expires_at"`
	User         userRow `json:"user"`
}

func (p sessionPayload) validate() error {
	if strings.TrimSpace(p.AccessToken) == "" {
		return fmt.Errorf("session payload has empty access token")
	}
	if p.TokenType != "" && !strings.EqualFold(p.TokenType, "bearer") {
		return fmt.Errorf("unsupported token type %q", p.TokenType)
	}
	return p.User.validate()
}

func (p sessionPayload) session(now time.Time) *authstate.Session {
	var exp time.Time
	switch {
	case p.ExpiresAt > 0:
		exp = time.Unix(p.ExpiresAt, 0).UTC()
	case p.ExpiresIn > 0:
		exp = now.Add(time.Duration(p.ExpiresIn) * time.Second).UTC()
	}
	return &authstate.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    exp,
		Identity:     p.User.identity(),
	}
}

type signUpPayload struct {
	User                 userRow         `json:"user"`
	Session              *sessionPayload `json:"session"`
	ConfirmationRequired bool            `json:"confirmation_required"`
}

type profileRow struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Username   string     `json:"username"`
	Approved   *bool      `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at"`
	ApprovedBy *string    `json:"approved_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// validate rejects rows whose approval flag is missing, so a shape change
// on the server reads as an error rather than as "not approved".
func (r profileRow) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("profile row has empty id")
	}
	if r.Approved == nil {
		return fmt.Errorf("profile row %s has no approved flag", r.ID)
	}
	return nil
}

func (r profileRow) profile() authstate.Profile {
	return authstate.Profile{
		ID:         r.ID,
		Email:      r.Email,
		Name:       r.Name,
		Username:   r.Username,
		Approved:   *r.Approved,
		ApprovedAt: r.ApprovedAt,
		ApprovedBy: r.ApprovedBy,
		CreatedAt:  r.CreatedAt,
	}
}

type roleRow struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (r roleRow) validate() error {
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.Role) == "" {
		return fmt.Errorf("role row is missing user_id or role")
	}
	return nil
}
