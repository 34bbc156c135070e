package authstate

import (
	"context"
	"errors"
	"log/slog"

	"devforum/internal/metrics"
)

// AdminChecker is the part of AdminResolver the approval path needs.
type AdminChecker interface {
	Resolve(ctx context.Context, ident *Identity) bool
}

// ApprovalResolver decides whether an identity may use the forum. Admins
// are approved implicitly; everyone else needs profiles.approved. Missing
// profiles and lookup failures resolve to false.
type ApprovalResolver struct {
	profiles ProfileSource
	admin    AdminChecker
	log      *slog.Logger
}

func NewApprovalResolver(profiles ProfileSource, admin AdminChecker, log *slog.Logger) *ApprovalResolver {
	if log == nil {
		log = discardLogger()
	}
	return &ApprovalResolver{profiles: profiles, admin: admin, log: log}
}

func (r *ApprovalResolver) Resolve(ctx context.Context, ident *Identity) bool {
	if ident == nil || ident.ID == "" {
		return false
	}
	if r.admin != nil && r.admin.Resolve(ctx, ident) {
		metrics.ApprovalResolutionsTotal.WithLabelValues("admin").Inc()
		return true
	}
	return r.ProfileApproved(ctx, ident)
}

// ProfileApproved consults profiles.approved only, for callers that have
// already resolved the admin role.
func (r *ApprovalResolver) ProfileApproved(ctx context.Context, ident *Identity) bool {
	if ident == nil || ident.ID == "" {
		return false
	}
	p, err := r.profiles.Profile(ctx, ident.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn("profile lookup failed", "user_id", ident.ID, "err", err)
		}
		metrics.ApprovalResolutionsTotal.WithLabelValues("error").Inc()
		return false
	}
	if p.ID != ident.ID {
		r.log.Warn("profile row does not match identity", "user_id", ident.ID, "profile_id", p.ID)
		metrics.ApprovalResolutionsTotal.WithLabelValues("error").Inc()
		return false
	}
	if p.Approved {
		metrics.ApprovalResolutionsTotal.WithLabelValues("approved").Inc()
		return true
	}
	metrics.ApprovalResolutionsTotal.WithLabelValues("pending").Inc()
	return false
}
