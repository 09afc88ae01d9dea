package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"shop-auth-service/internal/audit"
	"shop-auth-service/internal/bucketing"
	"shop-auth-service/internal/client"
	"shop-auth-service/internal/config"
	"shop-auth-service/internal/encryption"
	"shop-auth-service/internal/hashing"
	redisrepo "shop-auth-service/internal/repository/redis"
	"shop-auth-service/internal/repository/scylla"
	"shop-auth-service/internal/service"
	"shop-auth-service/internal/tls"
	"shop-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer
	mailer        client.Mailer

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories and services
	otpCache          *redisrepo.OTPCache
	accountRepository scylla.AccountRepository
	auditPublisher    *audit.Publisher
	services          *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is optional; the audit publisher degrades to log-only.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without audit stream", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	f.mailer = client.NewSMTPClient(f.config, util.Get())

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config - TOTP secrets will use the local key", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

func (f *Factory) OTPCache() *redisrepo.OTPCache {
	if f.otpCache == nil {
		f.otpCache = redisrepo.NewOTPCache(f.redisClient)
	}
	return f.otpCache
}

func (f *Factory) AccountRepository() scylla.AccountRepository {
	if f.accountRepository == nil {
		f.accountRepository = scylla.NewAccountRepository(
			f.scyllaClient,
			f.bucketingManager,
			util.Get(),
		)
	}
	return f.accountRepository
}

func (f *Factory) AuditPublisher() *audit.Publisher {
	if f.auditPublisher == nil {
		f.auditPublisher = audit.NewPublisher(f.kafkaProducer)
	}
	return f.auditPublisher
}

func (f *Factory) Services() *service.ServiceFactory {
	if f.services == nil {
		f.services = service.NewServiceFactory(
			f.config,
			f.AccountRepository(),
			f.OTPCache(),
			f.mailer,
			f.hasher,
			f.encryptionManager,
			f.AuditPublisher(),
			util.Get(),
		)
	}
	return f.services
}

// HealthCheck probes all wired backends concurrently and reports failures
// keyed by component name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)
	record := func(name string, err error) {
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			record("redis", fmt.Errorf("redis client not initialized"))
			return nil
		}
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			record("redis", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			record("scylla", fmt.Errorf("scylla client not initialized"))
			return nil
		}
		if err := f.scyllaClient.HealthCheck(); err != nil {
			record("scylla", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
				record("kafka", err)
			}
		}
		return nil
	})

	_ = g.Wait()

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

// IsHealthy treats Kafka as soft: the audit stream degrades, the auth
// flows do not.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditPublisher != nil {
			f.auditPublisher.Close()
			util.Info("Audit publisher drained")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
