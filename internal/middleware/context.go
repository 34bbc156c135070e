package middleware

import (
	"context"
	"net/http"

	"devforum/internal/authstate"
	"devforum/internal/service"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxPrincipal ctxKey = "principal"
	ctxViaCookie ctxKey = "via_cookie"
	ctxAccess    ctxKey = "access"
)

// Access is the gate's verdict for the current request.
type Access struct {
	State    authstate.State
	Decision authstate.Decision
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithPrincipal(ctx context.Context, p service.Principal, viaCookie bool) context.Context {
	ctx = context.WithValue(ctx, ctxPrincipal, p)
	return context.WithValue(ctx, ctxViaCookie, viaCookie)
}

func Principal(ctx context.Context) (service.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(service.Principal)
	return p, ok
}

// ViaCookie reports whether the caller authenticated with the session cookie
// rather than a bearer token.
func ViaCookie(ctx context.Context) bool {
	v, _ := ctx.Value(ctxViaCookie).(bool)
	return v
}

func WithAccess(ctx context.Context, a Access) context.Context {
	return context.WithValue(ctx, ctxAccess, a)
}

func AccessFrom(ctx context.Context) (Access, bool) {
	a, ok := ctx.Value(ctxAccess).(Access)
	return a, ok
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
