package service

import (
	"go.uber.org/zap"

	"shop-auth-service/internal/audit"
	"shop-auth-service/internal/client"
	"shop-auth-service/internal/config"
	"shop-auth-service/internal/encryption"
	"shop-auth-service/internal/hashing"
	redisrepo "shop-auth-service/internal/repository/redis"
	"shop-auth-service/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg           *config.Config
	accountRepo   scylla.AccountRepository
	otpCache      *redisrepo.OTPCache
	mailer        client.Mailer
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	events        *audit.Publisher
	logger        *zap.Logger

	otpService     *OTPService
	totpService    *TOTPService
	tokenService   *TokenService
	accountService *AccountService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	cfg *config.Config,
	accountRepo scylla.AccountRepository,
	otpCache *redisrepo.OTPCache,
	mailer client.Mailer,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	events *audit.Publisher,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:           cfg,
		accountRepo:   accountRepo,
		otpCache:      otpCache,
		mailer:        mailer,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		events:        events,
		logger:        logger,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.otpCache, f.mailer, f.events, f.logger)
	}
	return f.otpService
}

// TOTPService returns the TOTP service instance (singleton)
func (f *ServiceFactory) TOTPService() *TOTPService {
	if f.totpService == nil {
		f.totpService = NewTOTPService(f.cfg.TOTP.Issuer)
	}
	return f.totpService
}

// TokenService returns the token service instance (singleton)
func (f *ServiceFactory) TokenService() *TokenService {
	if f.tokenService == nil {
		f.tokenService = NewTokenService(f.cfg)
	}
	return f.tokenService
}

// AccountService returns the account service instance (singleton)
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.accountRepo,
			f.OTPService(),
			f.TOTPService(),
			f.TokenService(),
			f.hasher,
			f.encryptionMgr,
			f.events,
			f.logger,
		)
	}
	return f.accountService
}
