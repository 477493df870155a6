// Package mcpauth provides bearer token middleware for the HTTP tool
// transport. Failures carry RFC 6750 WWW-Authenticate headers.
package mcpauth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// Middleware authenticates requests to the tool endpoint.
type Middleware struct {
	validator auth.TokenValidator
	required  bool
	logger    *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware. When required is false a
// missing or unparseable token is tolerated and the request proceeds
// anonymously; a valid token still attributes the call to its subject.
func NewMiddleware(validator auth.TokenValidator, required bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		required:  required,
		logger:    logger.Named("mcp-auth"),
	}
}

// Authenticate validates the bearer token and injects claims into the
// request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			if !m.required {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Debug("MCP auth failed: no bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_request", "Bearer token required")
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			if !m.required {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Debug("MCP auth failed: invalid token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims, token)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidAuthFormat
	}
	return strings.TrimSpace(token), nil
}

// writeWWWAuthenticate writes an RFC 6750 Bearer token error response.
// See: https://datatracker.ietf.org/doc/html/rfc6750#section-3
func (m *Middleware) writeWWWAuthenticate(w http.ResponseWriter, status int, errorCode, description string) {
	headerValue := `Bearer error="` + errorCode + `", error_description="` + description + `"`
	w.Header().Set("WWW-Authenticate", headerValue)
	w.WriteHeader(status)
}
