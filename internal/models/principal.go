package models

import "time"

// Role discriminates the three principal kinds. Admin rows are user rows
// elevated in place; the platform never creates an admin directly.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSeller || r == RoleAdmin
}

// TwoFactorState is the explicit 2FA lifecycle state, derived from the
// stored fields rather than persisted. A secret set with the enabled flag
// off means setup has begun but the first code was never confirmed.
type TwoFactorState int

const (
	TwoFactorDisabled TwoFactorState = iota
	TwoFactorPendingActivation
	TwoFactorActive
)

// Credential2FA is the credential and two-factor sub-structure shared by all
// principal kinds. The TOTP secret is stored envelope-encrypted; backup
// codes are stored as SHA-256 hex digests and the plaintext exists only in
// the response returned at generation time.
type Credential2FA struct {
	PasswordHash       string   `db:"password_hash"`
	TwoFactorEnabled   bool     `db:"two_factor_enabled"`
	TwoFactorSecretEnc []byte   `db:"two_factor_secret_enc"`
	TwoFactorKeyID     string   `db:"two_factor_key_id"`
	BackupCodeHashes   []string `db:"backup_code_hashes"`
}

// Principal is one account record: a user, a seller, or an admin.
type Principal struct {
	Bucket      int    `db:"bucket"`
	PrincipalID string `db:"principal_id"`
	Role        Role   `db:"role"`
	Name        string `db:"name"`
	Email       string `db:"email"`

	Credential2FA

	// Seller-only linkage to the shop/payments services; empty for the
	// other roles.
	ShopID          string `db:"shop_id"`
	StripeAccountID string `db:"stripe_account_id"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
	LastLogin *time.Time `db:"last_login"`
}

// TwoFactorState derives the explicit lifecycle state
func (p *Principal) TwoFactorState() TwoFactorState {
	switch {
	case p.TwoFactorEnabled:
		return TwoFactorActive
	case len(p.TwoFactorSecretEnc) > 0:
		return TwoFactorPendingActivation
	default:
		return TwoFactorDisabled
	}
}

// PublicProfile is the response shape safe to return to clients.
type PublicProfile struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	ShopID           string     `json:"shopId,omitempty"`
	StripeAccountID  string     `json:"stripeAccountId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

// PublicProfile strips credentials and 2FA material
func (p *Principal) PublicProfile() *PublicProfile {
	return &PublicProfile{
		ID:               p.PrincipalID,
		Name:             p.Name,
		Email:            p.Email,
		Role:             p.Role,
		TwoFactorEnabled: p.TwoFactorEnabled,
		ShopID:           p.ShopID,
		StripeAccountID:  p.StripeAccountID,
		CreatedAt:        p.CreatedAt,
		LastLogin:        p.LastLogin,
	}
}
