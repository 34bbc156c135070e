package service

import (
	"context"
	"errors"

	"devforum/internal/authstate"
	"devforum/internal/store"
)

// storeSource exposes the profiles and user_roles tables to the authstate
// resolvers.
type storeSource struct {
	st *store.Store
}

func (s storeSource) Profile(ctx context.Context, userID string) (authstate.Profile, error) {
	p, err := s.st.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return authstate.Profile{}, authstate.ErrNotFound
	}
	if err != nil {
		return authstate.Profile{}, err
	}
	return authstate.Profile{
		ID:         p.ID,
		Email:      p.Email,
		Name:       p.Name,
		Username:   p.Username,
		Approved:   p.Approved,
		ApprovedAt: p.ApprovedAt,
		ApprovedBy: p.ApprovedBy,
		CreatedAt:  p.CreatedAt,
	}, nil
}

func (s storeSource) Roles(ctx context.Context, userID string) ([]authstate.RoleAssignment, error) {
	rows, err := s.st.ListRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]authstate.RoleAssignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, authstate.RoleAssignment{UserID: r.UserID, Role: r.Role})
	}
	return out, nil
}
