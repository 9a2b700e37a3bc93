// Package auth issues and checks the credentials accepted by the server:
// JWT access tokens for readers and bcrypt-hashed secrets for devices.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// ScopeAll grants read access to every kind.
const ScopeAll = "*"

// Claims carries the token id (jti), the kinds the holder may read and the
// data window. DataWindowHours of zero means no window.
type Claims struct {
	jwt.RegisteredClaims
	Scopes          []string `json:"scopes"`
	DataWindowHours int      `json:"dataWindowHours,omitempty"`
}

// Allows reports whether the token may read kind.
func (c *Claims) Allows(kind string) bool {
	return slices.Contains(c.Scopes, ScopeAll) || slices.Contains(c.Scopes, kind)
}

// Cutoff returns the oldest updated_at visible to the holder, or nil.
func (c *Claims) Cutoff(now time.Time) *time.Time {
	if c.DataWindowHours <= 0 {
		return nil
	}
	t := now.Add(-time.Duration(c.DataWindowHours) * time.Hour)
	return &t
}

// GenerateToken signs an HS256 token. A zero validity issues a token
// without expiry.
func GenerateToken(tokenID string, scopes []string, dataWindowHours int, secretKey []byte, validityDuration time.Duration) (string, error) {
	rc := jwt.RegisteredClaims{
		ID:       tokenID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if validityDuration != 0 {
		rc.ExpiresAt = jwt.NewNumericDate(time.Now().Add(validityDuration))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: rc,
		Scopes:           scopes,
		DataWindowHours:  dataWindowHours,
	})

	return token.SignedString(secretKey)
}

// ParseToken verifies tokenString and returns its claims.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.ID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
