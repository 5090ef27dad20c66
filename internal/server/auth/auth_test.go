package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "healthsync.identity"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func defaultClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "agent-1",
		"iss":       testConfig.Issuer,
		"device_id": "device-1",
		"scopes":    []string{ScopeHealthWrite},
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseValidToken(t *testing.T) {
	claims, err := Parse(signToken(t, defaultClaims()), testConfig)
	require.NoError(t, err)
	require.Equal(t, "agent-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
	require.True(t, claims.HasScope(ScopeHealthWrite))
	require.False(t, claims.HasScope(ScopeHealthRead))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	mc := defaultClaims()
	mc["scopes"] = ScopeHealthWrite + " " + ScopeHealthRead
	claims, err := Parse(signToken(t, mc), testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeHealthWrite))
	require.True(t, claims.HasScope(ScopeHealthRead))
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	mc := defaultClaims()
	mc["iss"] = "someone-else"
	_, err := Parse(signToken(t, mc), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	mc := defaultClaims()
	mc["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := Parse(signToken(t, mc), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, defaultClaims())
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	mc := defaultClaims()
	delete(mc, "sub")
	_, err := Parse(signToken(t, mc), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseEmptyToken(t *testing.T) {
	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	var got *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	})

	m := NewMiddleware(testConfig, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/batches", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, defaultClaims()))
	rr := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	require.Equal(t, "agent-1", got.Subject)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	m := NewMiddleware(testConfig, nil)
	rr := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sync/batches", nil))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, called, "handler must not run without credentials")
	require.Contains(t, rr.Body.String(), "unauthorized")
}

func TestMiddlewareSkipper(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	m := NewMiddleware(testConfig, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})
	rr := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}
