package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key"

func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestAuth(t *testing.T) (*JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, logger), key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims(scope string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc-ddl",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ScopeString: scope,
	}
}

// TestJWTAuth_ValidToken — валидный токен: sub и scopes в контексте.
func TestJWTAuth_ValidToken(t *testing.T) {
	auth, key := newTestAuth(t)

	var sub string
	var scopes []string
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = SubjectFromContext(r.Context())
		scopes = ScopesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims("catalog:read catalog:write")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if sub != "svc-ddl" {
		t.Errorf("sub = %q", sub)
	}
	if len(scopes) != 2 || scopes[1] != ScopeCatalogWrite {
		t.Errorf("неожиданные scopes: %v", scopes)
	}
}

// TestJWTAuth_Rejected — отсутствующий, кривой и просроченный токены.
func TestJWTAuth_Rejected(t *testing.T) {
	auth, key := newTestAuth(t)
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("обработчик не должен вызываться")
	}))

	expired := validClaims("catalog:read")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"без заголовка": "",
		"не Bearer":     "Basic dXNlcjpwYXNz",
		"пустой токен":  "Bearer ",
		"мусор":         "Bearer not-a-jwt",
		"просрочен":     "Bearer " + signToken(t, key, expired),
		"чужая подпись": "Bearer " + signToken(t, otherKey, validClaims("catalog:read")),
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался 401, получен %d", rec.Code)
			}
		})
	}
}

// TestRequireScope — scope проверяется после аутентификации.
func TestRequireScope(t *testing.T) {
	auth, key := newTestAuth(t)
	h := auth.Middleware()(RequireScope(ScopeCatalogWrite)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for _, tc := range []struct {
		scope  string
		status int
	}{
		{"catalog:read", http.StatusForbidden},
		{"catalog:read catalog:write", http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tables", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims(tc.scope)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("scope %q: ожидался %d, получен %d", tc.scope, tc.status, rec.Code)
		}
	}
}
