package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// TestKeyID is the kid advertised by JWKSServer.
const TestKeyID = "sqlbot-test-key"

// GenerateTestJWT creates an unsigned token (alg: none) for code paths that
// parse tokens without verification.
func GenerateTestJWT(sub, email, audience string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := map[string]any{"sub": sub}
	if email != "" {
		payload["email"] = email
	}
	if audience != "" {
		payload["aud"] = audience
	}
	body, _ := json.Marshal(payload)

	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(body))
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, email, audience string) string {
	return "Bearer " + GenerateTestJWT(sub, email, audience)
}

// JWKSServer serves a single RSA public key as a JWK set and signs tokens
// with the matching private key.
type JWKSServer struct {
	URL string
	key *rsa.PrivateKey
}

// NewJWKSServer starts an httptest server that is closed with the test.
func NewJWKSServer(t *testing.T) *JWKSServer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": TestKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return &JWKSServer{URL: srv.URL, key: key}
}

// Sign returns an RS256 token for claims carrying the server's key ID.
func (s *JWKSServer) Sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = TestKeyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
