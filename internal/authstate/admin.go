package authstate

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"devforum/internal/metrics"
)

const (
	DefaultAdminCacheTTL  = 5 * time.Minute
	DefaultAdminCacheSize = 1024
)

// AdminResolver answers "does this identity hold the admin role". Results,
// including negative ones, are cached per identity for a bounded TTL. Any
// lookup failure resolves to false and is not cached.
type AdminResolver struct {
	roles RoleSource
	cache *expirable.LRU[string, bool]
	log   *slog.Logger
}

func NewAdminResolver(roles RoleSource, size int, ttl time.Duration, log *slog.Logger) *AdminResolver {
	if size <= 0 {
		size = DefaultAdminCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultAdminCacheTTL
	}
	if log == nil {
		log = discardLogger()
	}
	return &AdminResolver{
		roles: roles,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
		log:   log,
	}
}

func (r *AdminResolver) Resolve(ctx context.Context, ident *Identity) bool {
	if ident == nil || ident.ID == "" {
		return false
	}
	if v, ok := r.cache.Get(ident.ID); ok {
		metrics.AdminCacheHitsTotal.Inc()
		return v
	}
	metrics.AdminCacheMissesTotal.Inc()

	rows, err := r.roles.Roles(ctx, ident.ID)
	if err != nil {
		r.log.Warn("admin role lookup failed", "user_id", ident.ID, "err", err)
		return false
	}
	isAdmin := false
	for _, row := range rows {
		if row.UserID == ident.ID && row.Role == RoleAdmin {
			isAdmin = true
			break
		}
	}
	r.cache.Add(ident.ID, isAdmin)
	return isAdmin
}

// Invalidate drops the cached answer for one identity.
func (r *AdminResolver) Invalidate(userID string) {
	if userID == "" {
		return
	}
	r.cache.Remove(userID)
}

func (r *AdminResolver) Purge() {
	r.cache.Purge()
}
