// Package auth resolves session tokens to identities and authenticates
// credentials
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BCryptCost is the cost parameter for bcrypt hashing (12 = ~250ms per hash)
const BCryptCost = 12

// HashPassword hashes a password using bcrypt. cost <= 0 selects BCryptCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost <= 0 {
		cost = BCryptCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a bcrypt hash using constant-time comparison
func VerifyPassword(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
