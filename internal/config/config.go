package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server    ServerConfig
	Redis     RedisConfig
	Scylla    ScyllaConfig
	Kafka     KafkaConfig
	SMTP      SMTPConfig
	JWT       JWTConfig
	TOTP      TOTPConfig
	Hashing   HashingConfig
	KMS       KMSConfig
	Bucketing BucketingConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type TOTPConfig struct {
	Issuer string
}

type HashingConfig struct {
	BcryptCost int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	AccountBuckets int
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	instance *Config
	loadOnce sync.Once
)

// LoadConfig reads .env (when present) and environment variables into the
// process-wide config singleton
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		instance = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

				AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "accounts"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled: getEnvBool("KAFKA_ENABLED", true),
				Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
				Topic:   getEnv("KAFKA_SECURITY_TOPIC", "auth-security-events"),
			},
			SMTP: SMTPConfig{
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnv("SMTP_PORT", "587"),
				From:     getEnv("SMTP_FROM", "no-reply@shop.example"),
				Username: getEnv("SMTP_USERNAME", ""),
				Password: getEnv("SMTP_PASSWORD", ""),
			},
			JWT: JWTConfig{
				AccessSecret:  getEnv("ACCESS_TOKEN_SECRET", ""),
				RefreshSecret: getEnv("REFRESH_TOKEN_SECRET", ""),
				AccessTTL:     getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
				RefreshTTL:    getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			},
			TOTP: TOTPConfig{
				Issuer: getEnv("TOTP_ISSUER", "ShopHub"),
			},
			Hashing: HashingConfig{
				BcryptCost: getEnvInt("BCRYPT_COST", 10),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "us-east-1"),
			},
			Bucketing: BucketingConfig{
				AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 64),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})

	return instance
}

// Get returns the loaded config, loading it on first use
func Get() *Config {
	if instance == nil {
		return LoadConfig()
	}
	return instance
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects configurations that cannot safely serve traffic
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.Hashing.BcryptCost < 4 || c.Hashing.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST out of range: %d", c.Hashing.BcryptCost)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
