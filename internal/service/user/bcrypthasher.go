package user

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errEmptyPassword = errors.New("password must not be empty")

// Bcrypt password hasher
// Password is prehashed with sha256, so bcrypt 72 bytes limit doesn't truncate long passwords
type BcryptHasher struct {
	// bcrypt cost, bcrypt.DefaultCost if zero
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

// Constant time comparison done by bcrypt itself
// Malformed hash is treated as mismatch
func (h BcryptHasher) Verify(hashedPassword string, password string) bool {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:]) == nil
}
