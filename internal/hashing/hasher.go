package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"shop-auth-service/internal/config"
)

var ErrHashTooLong = errors.New("password exceeds bcrypt input limit")

// Hasher provides one-way password hashing with constant-effort comparison
// and the digest helpers used for backup codes.
type Hasher struct {
	cost int
}

func NewHasher(cfg *config.Config) *Hasher {
	cost := cfg.Hashing.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// HashPassword returns the bcrypt hash of a plaintext password
func (h *Hasher) HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", ErrHashTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the stored bcrypt hash
func (h *Hasher) ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashBackupCode digests a backup code for storage. The dash separator and
// letter case are cosmetic and normalized away so users may enter any form.
func HashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings without leaking the mismatch
// position through timing
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
