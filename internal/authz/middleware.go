package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/parcelhub/parcelhub/internal/platform/httpx"
	"github.com/parcelhub/parcelhub/internal/shared"
)

// retryAfterSeconds is advertised on authorization_unavailable responses.
const retryAfterSeconds = "5"

// Middleware wires the gate into chi route groups.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// Authenticate admits any caller with a valid token and a usable account.
func (m Middleware) Authenticate() func(http.Handler) http.Handler {
	return m.Require(Requirement{})
}

// RequireRole admits callers whose current role is one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.Require(Requirement{Roles: roles})
}

// RequirePermission admits callers whose current role grants perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.Require(Requirement{Permission: perm})
}

// Require runs the gate with an explicit requirement. Rejected requests
// never reach next.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	req.Permission = strings.TrimSpace(req.Permission)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := m.Gate.Authorize(r.Context(), BearerToken(r), req)
			if err != nil {
				m.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// BearerToken extracts the token from the Authorization header. Any other
// scheme counts as no token.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	if m.Logger != nil {
		attrs := []any{
			slog.String("kind", string(kind)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		}
		var e *Error
		if errors.As(err, &e) && e.UserID != 0 {
			attrs = append(attrs, slog.Int64("user_id", e.UserID))
		}
		level := slog.LevelInfo
		if kind == KindAuthorizationUnavailable {
			level = slog.LevelError
		}
		m.Logger.Log(r.Context(), level, "authz rejected", attrs...)
	}
	WriteRejection(w, kind)
}

// WriteRejection renders a rejection as problem JSON. Only the kind and a
// generic message are exposed.
func WriteRejection(w http.ResponseWriter, kind Kind) {
	status := kind.Status()
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="`+string(kind)+`"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	httpx.ProblemCode(w, status, string(kind), http.StatusText(status), kind.Message())
}
