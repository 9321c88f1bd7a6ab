// Package auth is the credential store: a bearer token persisted in the
// user's config dir, refused once its JWT exp claim has passed. Token
// issuance itself happens on the backend; this package only keeps what a
// login handed us.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no usable token is stored.
var ErrNoToken = errors.New("no valid token (login required)")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStore persists the bearer token on disk. It implements the API
// client's TokenSource.
type TokenStore struct {
	path string
}

// NewTokenStore creates a token store at an explicit path. An empty path
// means the default location under the user config dir.
func NewTokenStore(path string) *TokenStore {
	if path == "" {
		path = defaultTokenPath()
	}
	return &TokenStore{path: path}
}

func defaultTokenPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "clientd", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clientd", "token.json")
}

// Path returns where the token lives.
func (s *TokenStore) Path() string {
	return s.path
}

// Save stores the token, recording its expiry from the JWT exp claim when
// one is present. Tokens without an exp claim are kept until replaced.
func (s *TokenStore) Save(token string) error {
	if token == "" {
		return errors.New("empty token")
	}

	expiresAt, _ := TokenExpiry(token)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(tokenFile{AccessToken: token, ExpiresAt: expiresAt}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Token loads the stored token, refusing missing or expired ones.
func (s *TokenStore) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", ErrNoToken
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", ErrNoToken
	}
	if tf.AccessToken == "" {
		return "", ErrNoToken
	}
	if !tf.ExpiresAt.IsZero() && time.Now().After(tf.ExpiresAt) {
		return "", ErrNoToken
	}

	return tf.AccessToken, nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TokenExpiry reads the exp claim from a JWT without verifying the
// signature; verification is the backend's job, the client only needs to
// know when to stop presenting the token. The zero time means no exp claim
// (or not a JWT at all).
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}
