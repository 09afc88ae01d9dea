package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"shop-auth-service/internal/client"
	"shop-auth-service/internal/config"
	"shop-auth-service/internal/encryption"
	"shop-auth-service/internal/hashing"
	"shop-auth-service/internal/models"
	redisrepo "shop-auth-service/internal/repository/redis"
	"shop-auth-service/internal/repository/scylla"
	"shop-auth-service/internal/util"
)

type sentMail struct {
	To         string
	Subject    string
	TemplateID string
	Vars       map[string]string
}

// fakeMailer records outbound mail so tests can read the OTP that a flow
// generated.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(to, subject, templateID string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, TemplateID: templateID, Vars: vars})
	return nil
}

func (m *fakeMailer) lastOTP(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	otp, ok := m.sent[len(m.sent)-1].Vars["otp"]
	if !ok {
		t.Fatal("sent mail carries no otp variable")
	}
	return otp
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestOTPService(t *testing.T) (*OTPService, *redisrepo.OTPCache, *miniredis.Miniredis, *fakeMailer) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := redisrepo.NewOTPCache(client.NewRedisClientFromAddr(mr.Addr()))
	mailer := &fakeMailer{}
	svc := NewOTPService(cache, mailer, nil, util.Get())
	return svc, cache, mr, mailer
}

// fakeAccountRepo is an in-memory AccountRepository. Values are copied on
// the way in and out so callers never share state with the store.
type fakeAccountRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.Principal
	byEmail map[string]string
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		byID:    make(map[string]*models.Principal),
		byEmail: make(map[string]string),
	}
}

func emailKey(email string, role models.Role) string {
	return email + "|" + string(role)
}

func copyPrincipal(p *models.Principal) *models.Principal {
	cp := *p
	cp.TwoFactorSecretEnc = append([]byte(nil), p.TwoFactorSecretEnc...)
	cp.BackupCodeHashes = append([]string(nil), p.BackupCodeHashes...)
	return &cp
}

func (r *fakeAccountRepo) Create(ctx context.Context, p *models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := emailKey(p.Email, p.Role)
	if _, exists := r.byEmail[key]; exists {
		return scylla.ErrEmailAlreadyRegistered
	}
	r.byEmail[key] = p.PrincipalID
	r.byID[p.PrincipalID] = copyPrincipal(p)
	return nil
}

func (r *fakeAccountRepo) FindByID(ctx context.Context, principalID string) (*models.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return nil, scylla.ErrPrincipalNotFound
	}
	return copyPrincipal(p), nil
}

func (r *fakeAccountRepo) FindByEmail(ctx context.Context, email string, role models.Role) (*models.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[emailKey(email, role)]
	if !ok {
		return nil, scylla.ErrPrincipalNotFound
	}
	return copyPrincipal(r.byID[id]), nil
}

func (r *fakeAccountRepo) UpdatePassword(ctx context.Context, principalID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return scylla.ErrPrincipalNotFound
	}
	p.PasswordHash = passwordHash
	return nil
}

func (r *fakeAccountRepo) UpdateTwoFactor(ctx context.Context, principalID string, enabled bool, secretEnc []byte, keyID string, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return scylla.ErrPrincipalNotFound
	}
	p.TwoFactorEnabled = enabled
	p.TwoFactorSecretEnc = append([]byte(nil), secretEnc...)
	p.TwoFactorKeyID = keyID
	p.BackupCodeHashes = append([]string(nil), backupCodeHashes...)
	return nil
}

func (r *fakeAccountRepo) UpdateBackupCodes(ctx context.Context, principalID string, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return scylla.ErrPrincipalNotFound
	}
	p.BackupCodeHashes = append([]string(nil), backupCodeHashes...)
	return nil
}

func (r *fakeAccountRepo) UpdateLastLogin(ctx context.Context, principalID string, timestamp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return scylla.ErrPrincipalNotFound
	}
	ts := timestamp
	p.LastLogin = &ts
	return nil
}

func (r *fakeAccountRepo) ElevateToAdmin(ctx context.Context, principalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[principalID]
	if !ok {
		return scylla.ErrPrincipalNotFound
	}
	if _, taken := r.byEmail[emailKey(p.Email, models.RoleAdmin)]; taken {
		return scylla.ErrEmailAlreadyRegistered
	}
	delete(r.byEmail, emailKey(p.Email, p.Role))
	p.Role = models.RoleAdmin
	r.byEmail[emailKey(p.Email, models.RoleAdmin)] = principalID
	return nil
}

func (r *fakeAccountRepo) delete(principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[principalID]; ok {
		delete(r.byEmail, emailKey(p.Email, p.Role))
		delete(r.byID, principalID)
	}
}

func (r *fakeAccountRepo) HealthCheck(ctx context.Context) error { return nil }

type accountTestEnv struct {
	accounts *AccountService
	tokens   *TokenService
	totp     *TOTPService
	repo     *fakeAccountRepo
	mailer   *fakeMailer
	redis    *miniredis.Miniredis
}

func newAccountTestEnv(t *testing.T) *accountTestEnv {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret-for-tests",
			RefreshSecret: "refresh-secret-for-tests",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		TOTP:    config.TOTPConfig{Issuer: "ShopHub"},
		Hashing: config.HashingConfig{BcryptCost: 4},
	}

	mr := miniredis.RunT(t)
	cache := redisrepo.NewOTPCache(client.NewRedisClientFromAddr(mr.Addr()))
	mailer := &fakeMailer{}
	repo := newFakeAccountRepo()

	otp := NewOTPService(cache, mailer, nil, util.Get())
	totp := NewTOTPService(cfg.TOTP.Issuer)
	tokens := NewTokenService(cfg)
	hasher := hashing.NewHasher(cfg)
	enc := encryption.NewEncryptionManager(cfg, nil)

	accounts := NewAccountService(repo, otp, totp, tokens, hasher, enc, nil, util.Get())
	return &accountTestEnv{
		accounts: accounts,
		tokens:   tokens,
		totp:     totp,
		repo:     repo,
		mailer:   mailer,
		redis:    mr,
	}
}

