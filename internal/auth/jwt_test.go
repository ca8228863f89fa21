package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	assert.Error(t, err)
}

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("web-frontend")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))
}

func TestGenerate_RequiresSubject(t *testing.T) {
	_, err := newTestTokenService(t).Generate("")
	assert.Error(t, err)
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("grader")
	require.NoError(t, err)

	got, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "grader", got)
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService("wrong-secret-32-chars-long!!!!!!")
	require.NoError(t, err)

	expired, err := ts.GenerateWithDuration("grader", -time.Second)
	require.NoError(t, err)
	good, err := ts.Generate("grader")
	require.NoError(t, err)
	foreign, err := other.Generate("grader")
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "grader",
		Issuer:    "another-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "grader",
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"tampered":       good[:len(good)-3] + "xxx",
		"wrong secret":   foreign,
		"wrong issuer":   wrongIssuer,
		"alg none":       unsigned,
		"empty":          "",
		"garbage string": "not.a.jwt.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Validate(token)
			assert.Error(t, err)
		})
	}
}
