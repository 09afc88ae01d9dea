package scylla

import (
	"context"
	"errors"
	"time"

	"shop-auth-service/internal/models"
)

var (
	// ErrPrincipalNotFound reports a miss by id or by (email, role).
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrEmailAlreadyRegistered reports a lost uniqueness race or a
	// duplicate registration. The store, not the flows, is the backstop.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// AccountRepository is the persistence boundary for principals. Email
// lookups are scoped by role: the same address may hold a user account and
// a seller account simultaneously.
type AccountRepository interface {
	Create(ctx context.Context, principal *models.Principal) error
	FindByID(ctx context.Context, principalID string) (*models.Principal, error)
	FindByEmail(ctx context.Context, email string, role models.Role) (*models.Principal, error)

	UpdatePassword(ctx context.Context, principalID, passwordHash string) error
	UpdateTwoFactor(ctx context.Context, principalID string, enabled bool, secretEnc []byte, keyID string, backupCodeHashes []string) error
	UpdateBackupCodes(ctx context.Context, principalID string, backupCodeHashes []string) error
	UpdateLastLogin(ctx context.Context, principalID string, timestamp time.Time) error

	// ElevateToAdmin is the only path to the admin role.
	ElevateToAdmin(ctx context.Context, principalID string) error

	HealthCheck(ctx context.Context) error
}
