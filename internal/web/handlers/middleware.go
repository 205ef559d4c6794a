package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/auth"
	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ActorContextKey stores the authenticated actor in request context.
	ActorContextKey contextKey = "actor"

	// TokenCookie is the cookie carrying the bearer token for browser clients.
	TokenCookie = "auth-token"
)

// AuthMiddleware resolves the caller from the auth-token cookie or an
// Authorization: Bearer header. Any failure is a 401 JSON error; the guard
// fails closed, so there is no anonymous fallthrough.
func AuthMiddleware(guard *auth.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := guard.Resolve(r.Context(), tokenFromRequest(r))
			if err != nil {
				if lifecycle.KindOf(err) == lifecycle.KindUnauthenticated {
					clearTokenCookie(w)
				}
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ActorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects actors outside roles with 403.
// MUST be used after AuthMiddleware so the actor is already in context.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, r, lifecycle.Unauthenticated(auth.ErrMissingToken))
				return
			}
			if err := auth.RequireRole(actor, roles...); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFromContext extracts the authenticated actor from request context.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(models.Actor)
	return actor, ok
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   TokenCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
