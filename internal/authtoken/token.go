// Package authtoken issues and validates the bearer token the control-plane
// boundary uses to authenticate a local UI client. The secrets backend
// itself (OS keychain plus encrypted-file fallback) is an external
// collaborator; this package only defines the token shape it stores and
// validates against.
package authtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails signature or
// expiry verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload issued for the single local user.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Service issues and validates bearer tokens signed with a secret held in
// a 0600 file under the workspace — the minimal stand-in for the secrets
// facade's eventual OS-keychain backing.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService loads or creates the signing secret at secretPath (created
// with file mode 0600 on first run) and returns a Service. expiry <= 0
// means issued tokens never expire, matching a daemon meant to be
// authenticated once at first run.
func NewService(secretPath string, expiry time.Duration) (*Service, error) {
	secret, err := loadOrCreateSecret(secretPath)
	if err != nil {
		return nil, err
	}
	return &Service{secret: secret, expiry: expiry}, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(decoded) > 0 {
			return decoded, nil
		}
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("authtoken: generate secret: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("authtoken: create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("authtoken: write secret: %w", err)
	}
	return secret, nil
}

// Issue mints a bearer token carrying scopes, signed HS256.
func (s *Service) Issue(scopes ...string) (string, error) {
	claims := Claims{Scopes: scopes}
	if s.expiry > 0 {
		claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(time.Now())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies tokenString, returning the granted scopes.
func (s *Service) Validate(tokenString string) ([]string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims.Scopes, nil
}
