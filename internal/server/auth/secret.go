package auth

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/contexter/internal/common"
	"golang.org/x/crypto/bcrypt"
)

const secretBytes = 32

// NewSecret returns a random hex secret.
func NewSecret() (string, error) {
	return common.MakeRandHexString(secretBytes)
}

func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func CheckSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// EqualToken compares two static tokens in constant time. An empty want
// never matches.
func EqualToken(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
