package mcpauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
)

type fakeValidator struct {
	claims *auth.Claims
	err    error
	seen   string
}

func (f *fakeValidator) ValidateToken(token string) (*auth.Claims, error) {
	f.seen = token
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func (f *fakeValidator) Close() {}

// echoUser writes the authenticated user ID, or "anonymous".
func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserIDFromContext(r.Context())
		if user == "" {
			user = "anonymous"
		}
		_, _ = w.Write([]byte(user))
	})
}

func serve(m *Middleware, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	m.Authenticate(echoUser()).ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate_Required(t *testing.T) {
	validClaims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "U77"}}

	tests := []struct {
		name       string
		header     string
		validator  *fakeValidator
		wantStatus int
		wantBody   string
		wantError  string
	}{
		{
			name:       "valid token",
			header:     "Bearer good",
			validator:  &fakeValidator{claims: validClaims},
			wantStatus: http.StatusOK,
			wantBody:   "U77",
		},
		{
			name:       "lowercase scheme",
			header:     "bearer good",
			validator:  &fakeValidator{claims: validClaims},
			wantStatus: http.StatusOK,
			wantBody:   "U77",
		},
		{
			name:       "missing header",
			validator:  &fakeValidator{claims: validClaims},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_request",
		},
		{
			name:       "basic scheme",
			header:     "Basic dXNlcjpwYXNz",
			validator:  &fakeValidator{claims: validClaims},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_request",
		},
		{
			name:       "rejected token",
			header:     "Bearer bad",
			validator:  &fakeValidator{err: errors.New("expired")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMiddleware(tt.validator, true, zaptest.NewLogger(t))
			rec := serve(m, tt.header)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantError != "" {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="`+tt.wantError+`"`)
			}
		})
	}
}

func TestAuthenticate_Optional(t *testing.T) {
	validator := &fakeValidator{err: errors.New("bad signature")}
	m := NewMiddleware(validator, false, zaptest.NewLogger(t))

	rec := serve(m, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = serve(m, "Bearer junk")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
	assert.Equal(t, "junk", validator.seen)

	validator.err = nil
	validator.claims = &auth.Claims{Email: "analyst@example.com"}
	rec = serve(m, "Bearer ok")
	assert.Equal(t, "analyst@example.com", rec.Body.String())
}
