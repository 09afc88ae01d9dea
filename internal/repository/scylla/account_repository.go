package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"shop-auth-service/internal/bucketing"
	"shop-auth-service/internal/models"
	"shop-auth-service/internal/util"
)

const (
	insertPrincipalCQL = `
        INSERT INTO principals (
            bucket, principal_id, role, name, email, password_hash,
            two_factor_enabled, two_factor_secret_enc, two_factor_key_id,
            backup_code_hashes, shop_id, stripe_account_id,
            created_at, updated_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// LWT on the lookup table is the email-uniqueness backstop against
	// interleaved verify-and-create calls.
	insertEmailLookupCQL = `
        INSERT INTO email_to_principal (email, role, bucket, principal_id, created_at)
        VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`

	selectPrincipalCQL = `
        SELECT bucket, principal_id, role, name, email, password_hash,
            two_factor_enabled, two_factor_secret_enc, two_factor_key_id,
            backup_code_hashes, shop_id, stripe_account_id,
            created_at, updated_at, last_login
        FROM principals WHERE bucket = ? AND principal_id = ?`

	selectEmailLookupCQL = `
        SELECT bucket, principal_id FROM email_to_principal WHERE email = ? AND role = ?`

	updatePasswordCQL = `
        UPDATE principals SET password_hash = ?, updated_at = ?
        WHERE bucket = ? AND principal_id = ?`

	updateTwoFactorCQL = `
        UPDATE principals SET two_factor_enabled = ?, two_factor_secret_enc = ?,
            two_factor_key_id = ?, backup_code_hashes = ?, updated_at = ?
        WHERE bucket = ? AND principal_id = ?`

	updateBackupCodesCQL = `
        UPDATE principals SET backup_code_hashes = ?, updated_at = ?
        WHERE bucket = ? AND principal_id = ?`

	updateLastLoginCQL = `
        UPDATE principals SET last_login = ? WHERE bucket = ? AND principal_id = ?`

	updateRoleCQL = `
        UPDATE principals SET role = ?, updated_at = ?
        WHERE bucket = ? AND principal_id = ?`

	deleteEmailLookupCQL = `
        DELETE FROM email_to_principal WHERE email = ? AND role = ?`
)

// accountRepository is the ScyllaDB implementation of AccountRepository.
type accountRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
	logger       *zap.Logger
}

func NewAccountRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) AccountRepository {
	return &accountRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
		logger:       logger,
	}
}

func (r *accountRepository) Create(ctx context.Context, p *models.Principal) error {
	p.Bucket = r.bucketingMgr.AccountBucket(p.PrincipalID)

	applied, err := r.client.Session.Query(insertEmailLookupCQL,
		p.Email, string(p.Role), p.Bucket, p.PrincipalID, p.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to reserve email: %w", err)
	}
	if !applied {
		return ErrEmailAlreadyRegistered
	}

	if err := r.client.Session.Query(insertPrincipalCQL,
		p.Bucket, p.PrincipalID, string(p.Role), p.Name, p.Email, p.PasswordHash,
		p.TwoFactorEnabled, p.TwoFactorSecretEnc, p.TwoFactorKeyID,
		p.BackupCodeHashes, p.ShopID, p.StripeAccountID,
		p.CreatedAt, p.UpdatedAt, p.LastLogin,
	).WithContext(ctx).Exec(); err != nil {
		// Roll the reservation back so the email is not orphaned.
		if delErr := r.client.Session.Query(deleteEmailLookupCQL, p.Email, string(p.Role)).WithContext(ctx).Exec(); delErr != nil {
			r.logger.Error("Failed to release email reservation after create failure",
				util.String("email", p.Email),
				util.ErrorField(delErr),
			)
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	r.logger.Info("Principal created",
		util.String("principal_id", p.PrincipalID),
		util.String("role", string(p.Role)),
		util.Int("bucket", p.Bucket),
	)
	return nil
}

func (r *accountRepository) FindByID(ctx context.Context, principalID string) (*models.Principal, error) {
	bucket := r.bucketingMgr.AccountBucket(principalID)
	return r.scanPrincipal(ctx, bucket, principalID)
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string, role models.Role) (*models.Principal, error) {
	var bucket int
	var principalID string

	err := r.client.Session.Query(selectEmailLookupCQL, email, string(role)).
		WithContext(ctx).Scan(&bucket, &principalID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}

	return r.scanPrincipal(ctx, bucket, principalID)
}

func (r *accountRepository) scanPrincipal(ctx context.Context, bucket int, principalID string) (*models.Principal, error) {
	p := &models.Principal{}
	var role string

	err := r.client.Session.Query(selectPrincipalCQL, bucket, principalID).
		WithContext(ctx).Scan(
		&p.Bucket, &p.PrincipalID, &role, &p.Name, &p.Email, &p.PasswordHash,
		&p.TwoFactorEnabled, &p.TwoFactorSecretEnc, &p.TwoFactorKeyID,
		&p.BackupCodeHashes, &p.ShopID, &p.StripeAccountID,
		&p.CreatedAt, &p.UpdatedAt, &p.LastLogin,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to fetch principal: %w", err)
	}

	p.Role = models.Role(role)
	return p, nil
}

func (r *accountRepository) UpdatePassword(ctx context.Context, principalID, passwordHash string) error {
	bucket := r.bucketingMgr.AccountBucket(principalID)
	now := time.Now().UTC()

	if err := r.client.Session.Query(updatePasswordCQL, passwordHash, now, bucket, principalID).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateTwoFactor(ctx context.Context, principalID string, enabled bool, secretEnc []byte, keyID string, backupCodeHashes []string) error {
	bucket := r.bucketingMgr.AccountBucket(principalID)
	now := time.Now().UTC()

	if err := r.client.Session.Query(updateTwoFactorCQL,
		enabled, secretEnc, keyID, backupCodeHashes, now, bucket, principalID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update two-factor state: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateBackupCodes(ctx context.Context, principalID string, backupCodeHashes []string) error {
	bucket := r.bucketingMgr.AccountBucket(principalID)
	now := time.Now().UTC()

	if err := r.client.Session.Query(updateBackupCodesCQL, backupCodeHashes, now, bucket, principalID).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update backup codes: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateLastLogin(ctx context.Context, principalID string, timestamp time.Time) error {
	bucket := r.bucketingMgr.AccountBucket(principalID)

	if err := r.client.Session.Query(updateLastLoginCQL, timestamp, bucket, principalID).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *accountRepository) ElevateToAdmin(ctx context.Context, principalID string) error {
	p, err := r.FindByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Role != models.RoleUser {
		return fmt.Errorf("only user accounts can be elevated, got role %q", p.Role)
	}

	now := time.Now().UTC()
	if err := r.client.Session.Query(updateRoleCQL, string(models.RoleAdmin), now, p.Bucket, p.PrincipalID).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to elevate principal: %w", err)
	}

	// Re-home the email lookup under the admin role. The LWT loses when
	// the email already belongs to another admin; the role update is
	// rolled back so the principal stays reachable as a user.
	applied, err := r.client.Session.Query(insertEmailLookupCQL,
		p.Email, string(models.RoleAdmin), p.Bucket, p.PrincipalID, now,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		r.revertRole(ctx, p)
		return fmt.Errorf("failed to re-home email lookup: %w", err)
	}
	if !applied {
		r.revertRole(ctx, p)
		return fmt.Errorf("email %q taken by another admin: %w", p.Email, ErrEmailAlreadyRegistered)
	}
	if err := r.client.Session.Query(deleteEmailLookupCQL, p.Email, string(models.RoleUser)).
		WithContext(ctx).Exec(); err != nil {
		if derr := r.client.Session.Query(deleteEmailLookupCQL, p.Email, string(models.RoleAdmin)).
			WithContext(ctx).Exec(); derr != nil {
			r.logger.Error("failed to undo admin email lookup", util.ErrorField(derr))
		}
		r.revertRole(ctx, p)
		return fmt.Errorf("failed to drop user email lookup: %w", err)
	}

	r.logger.Warn("Principal elevated to admin", util.String("principal_id", principalID))
	return nil
}

func (r *accountRepository) revertRole(ctx context.Context, p *models.Principal) {
	if err := r.client.Session.Query(updateRoleCQL, string(p.Role), time.Now().UTC(), p.Bucket, p.PrincipalID).
		WithContext(ctx).Exec(); err != nil {
		r.logger.Error("failed to revert role after elevation failure",
			util.String("principal_id", p.PrincipalID),
			util.ErrorField(err),
		)
	}
}

func (r *accountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
