package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"sealtrack/auth"
	"sealtrack/portal"
)

type contextKey string

const SessionContextKey contextKey = "session"

// AuthMiddleware validates JWT tokens and injects the portal session into context.
// Websocket upgrades may pass the token as the "token" query parameter since
// browsers cannot set headers on them.
func AuthMiddleware(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := requestToken(r)
			if err != nil {
				writeUnauthorized(w, "Authentication required")
				return
			}

			claims, err := jwtManager.ValidateToken(token)
			if err != nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			session := claims.Session
			ctx := WithSession(r.Context(), &session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestToken(r *http.Request) (string, error) {
	if q := r.URL.Query().Get("token"); q != "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return q, nil
	}
	return auth.ExtractToken(r.Header.Get("Authorization"))
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *portal.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}

// GetSessionFromContext retrieves the session from the request context
func GetSessionFromContext(ctx context.Context) (*portal.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*portal.Session)
	return s, ok && s != nil
}

// RequirePermission rejects sessions whose portal lacks any of perms.
func RequirePermission(perms ...portal.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSessionFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "Session not found in context")
				return
			}

			for _, perm := range perms {
				if !session.Can(perm) {
					writeError(w, "Insufficient permissions", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":    message,
		"redirect": portal.AuthEntryPoint,
	})
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
