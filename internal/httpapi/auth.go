package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/branch-queue/internal/auth"
)

type authContextKey struct{}

// AuthMiddleware resolves the operator session of every non-public request.
func AuthMiddleware(sessions *auth.SessionManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.Get(sessionID)
		if err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		noteOperator(r.Context(), session.Operator.Name)
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (*auth.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(*auth.Session)
	return session, ok && session != nil
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint covers the kiosk, the customer status page and the
// display; everything else needs an operator session.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/auth/login", "/api/display":
		return true
	case "/api/tickets":
		return r.Method == http.MethodPost
	case "/api/settings":
		return r.Method == http.MethodGet
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/display/"):
		return true
	case strings.HasPrefix(r.URL.Path, "/api/tickets/"):
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
