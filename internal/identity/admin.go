package identity

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"devforum/internal/authstate"
)

// ProfilePage is one page of the admin profile listing.
type ProfilePage struct {
	Items []authstate.Profile
	Total int
}

// ListProfiles lists profiles by status: pending, approved or all.
func (p *HTTPProvider) ListProfiles(ctx context.Context, status string, limit, offset int) (ProfilePage, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return ProfilePage{}, err
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/admin/profiles"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Items []profileRow `json:"items"`
		Total int          `json:"total"`
	}
	if err := p.requestJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return ProfilePage{}, err
	}
	page := ProfilePage{Items: make([]authstate.Profile, 0, len(out.Items)), Total: out.Total}
	for _, row := range out.Items {
		if err := row.validate(); err != nil {
			return ProfilePage{}, err
		}
		page.Items = append(page.Items, row.profile())
	}
	return page, nil
}

func (p *HTTPProvider) ApproveProfile(ctx context.Context, userID string) (authstate.Profile, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return authstate.Profile{}, err
	}
	var row profileRow
	if err := p.requestJSON(ctx, http.MethodPost, "/api/v1/admin/profiles/"+url.PathEscape(userID)+"/approve", token, nil, &row); err != nil {
		return authstate.Profile{}, err
	}
	if err := row.validate(); err != nil {
		return authstate.Profile{}, err
	}
	return row.profile(), nil
}

// RejectProfile deletes the account behind a pending profile.
func (p *HTTPProvider) RejectProfile(ctx context.Context, userID, reason string) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	path := "/api/v1/admin/profiles/" + url.PathEscape(userID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return p.requestJSON(ctx, http.MethodDelete, path, token, nil, nil)
}

func (p *HTTPProvider) GrantRole(ctx context.Context, userID, role string) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	body := roleRow{UserID: userID, Role: role}
	return p.requestJSON(ctx, http.MethodPost, "/api/v1/admin/roles", token, body, nil)
}

func (p *HTTPProvider) RevokeRole(ctx context.Context, userID, role string) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	path := "/api/v1/admin/roles/" + url.PathEscape(userID) + "/" + url.PathEscape(role)
	return p.requestJSON(ctx, http.MethodDelete, path, token, nil, nil)
}

// AuthView is the server's own guard decision for the current session.
type AuthView struct {
	Phase    string             `json:"phase"`
	View     string             `json:"view"`
	Redirect string             `json:"redirect"`
	Approved bool               `json:"approved"`
	IsAdmin  bool               `json:"is_admin"`
	User     authstate.Identity `json:"user"`
}

// ServerView asks the service how it gates the current session.
func (p *HTTPProvider) ServerView(ctx context.Context) (AuthView, error) {
	sess, err := p.GetSession(ctx)
	if err != nil {
		return AuthView{}, err
	}
	token := ""
	if sess != nil {
		token = sess.AccessToken
	}
	var out AuthView
	if err := p.requestJSON(ctx, http.MethodGet, "/api/v1/auth/state", token, nil, &out); err != nil {
		return AuthView{}, err
	}
	return out, nil
}
