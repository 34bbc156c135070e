// Package authstate holds the client-side authentication model of the forum:
// the current session, the approval and admin-role resolution for its
// identity, and the route guard that turns that state into a view.
package authstate

import (
	"context"
	"errors"
	"time"
)

// RoleAdmin is the only role name the gate consults.
const RoleAdmin = "admin"

// ErrNotFound is returned by sources when the requested row does not exist.
var ErrNotFound = errors.New("authstate: not found")

type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a token-bearing credential for one identity. Expiry is owned
// by the remote service; ExpiresAt is what it reported.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"user"`
}

// Expired reports whether the access token is past, or within skew of, its
// expiry. A session with no reported expiry never expires locally.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

type Profile struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Username   string     `json:"username"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type RoleAssignment struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type SignUpMetadata struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// SignUpResult carries the provisioned identity and, when the service
// grants one immediately, a session.
type SignUpResult struct {
	Identity *Identity
	Session  *Session
}

// Provider is the remote identity service as seen by the client.
// Implementations must deliver auth events to subscribers after the
// corresponding call has updated their own session, and must not hold
// internal locks while doing so.
type Provider interface {
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(Event)) *Subscription
}

// ProfileSource reads the profiles table.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// RoleSource reads the user_roles table.
type RoleSource interface {
	Roles(ctx context.Context, userID string) ([]RoleAssignment, error)
}
