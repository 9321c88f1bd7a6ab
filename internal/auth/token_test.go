package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "admin"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	token := signedToken(t, time.Now().Add(time.Hour))

	require.NoError(t, s.Save(token))

	got, err := s.Token()
	require.NoError(t, err)
	require.Equal(t, token, got)
}

func TestExpiredTokenRefused(t *testing.T) {
	s := newTestStore(t)
	token := signedToken(t, time.Now().Add(-time.Minute))

	require.NoError(t, s.Save(token))

	_, err := s.Token()
	require.ErrorIs(t, err, ErrNoToken)
}

func TestTokenWithoutExpKept(t *testing.T) {
	s := newTestStore(t)
	token := signedToken(t, time.Time{})

	require.NoError(t, s.Save(token))

	got, err := s.Token()
	require.NoError(t, err)
	require.Equal(t, token, got)
}

func TestMissingTokenRefused(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Token()
	require.ErrorIs(t, err, ErrNoToken)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(signedToken(t, time.Now().Add(time.Hour))))
	require.NoError(t, s.Clear())
	_, err := s.Token()
	require.ErrorIs(t, err, ErrNoToken)
	// Clearing twice is fine
	require.NoError(t, s.Clear())
}

func TestTokenExpiryOnOpaqueToken(t *testing.T) {
	_, err := TokenExpiry("not-a-jwt")
	require.Error(t, err)
}
