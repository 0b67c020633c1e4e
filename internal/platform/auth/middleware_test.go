package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

// run invokes mw with the given Authorization header and returns the actor
// the downstream handler saw.
func run(t *testing.T, mw echo.MiddlewareFunc, header string) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var actor string
	err := mw(func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return actor, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims("clinician-42"), testSigningKey)
	actor, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor != "clinician-42" {
		t.Errorf("expected actor clinician-42, got %q", actor)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims("u1")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		token  string
		issuer string
	}{
		{"wrong key", createTestToken(t, validClaims("u1"), []byte("another-key")), ""},
		{"expired", createTestToken(t, expired, testSigningKey), ""},
		{"no subject", createTestToken(t, validClaims(""), testSigningKey), ""},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey), "caresync"},
		{"garbage", "not.a.jwt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: tt.issuer})
			_, err := run(t, mw, "Bearer "+tt.token)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("u1"))
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+s)
	expectUnauthorized(t, err)
}

func TestDevAuthMiddleware(t *testing.T) {
	mw := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})

	actor, err := run(t, mw, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor != DevActor {
		t.Errorf("expected %q, got %q", DevActor, actor)
	}

	token := createTestToken(t, validClaims("real-user"), testSigningKey)
	actor, err = run(t, mw, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor != "real-user" {
		t.Errorf("expected token subject to win, got %q", actor)
	}

	_, err = run(t, mw, "Bearer bad")
	expectUnauthorized(t, err)
}

func TestActorFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ActorFromContext(req.Context()); got != "" {
		t.Errorf("expected empty actor, got %q", got)
	}
}
