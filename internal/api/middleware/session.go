package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/retailiq/hub/internal/api/response"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
	"github.com/retailiq/hub/internal/service"
)

type contextKey string

// SessionContextKey holds the authenticated *models.Session.
const SessionContextKey contextKey = "session"

// Authenticator resolves a session token (implemented by service.SessionService).
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// Session requires a valid session from the session cookie or an Authorization: Bearer header.
// The session is stored in the request context; see UserIDFromContext.
func Session(auth Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r, cookieName)
			if token == "" {
				response.RespondUnauthorized(w, "Authentication required")
				return
			}

			session, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, service.ErrUnauthenticated) {
					slog.ErrorContext(r.Context(), "session lookup failed", "error", err)
					response.RespondInternalServerError(w, "An unexpected error occurred")

					return
				}

				response.RespondUnauthorized(w, "Invalid or expired session")

				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = observability.WithUserID(ctx, session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionToken prefers the bearer token and falls back to the session cookie.
func sessionToken(r *http.Request, cookieName string) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}

	if cookie, err := r.Cookie(cookieName); err == nil {
		return service.TokenFromCookie(cookie.Value)
	}

	return ""
}

// UserIDFromContext returns the authenticated user id, or "" when the request has no session.
func UserIDFromContext(ctx context.Context) string {
	if session, ok := ctx.Value(SessionContextKey).(*models.Session); ok && session != nil {
		return session.UserID
	}

	return ""
}

// WithSession returns ctx carrying session. Used by tests and internal callers.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}
