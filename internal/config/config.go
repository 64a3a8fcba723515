package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Env             string
	DataDir         string
	NatsURL         string
	JWKSURL         string
	AuthServerURL   string
	KeyringDir      string
	KeyringPassword string
	SyncMaxResults  int
	SyncBatchSize   int
	SyncBatchDelay  time.Duration
	TokenTimeout    time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	authServerURL := getEnv("AUTH_SERVER_URL", "http://localhost:3000")
	dataDir := getEnv("DATA_DIR", "data")

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("APP_ENV", "production"),
		DataDir:         dataDir,
		NatsURL:         getEnv("NATS_URL", ""),
		JWKSURL:         getEnv("JWKS_URL", authServerURL+"/api/auth/jwks"),
		AuthServerURL:   authServerURL,
		KeyringDir:      getEnv("KEYRING_DIR", dataDir+"/keyring"),
		KeyringPassword: getEnv("KEYRING_PASSWORD", ""),
		SyncMaxResults:  getEnvInt("SYNC_MAX_RESULTS", 50),
		SyncBatchSize:   getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncBatchDelay:  getEnvDuration("SYNC_BATCH_DELAY", 100*time.Millisecond),
		TokenTimeout:    getEnvDuration("TOKEN_TIMEOUT", 10*time.Second),
	}
}

// ErrKeyringPassword is returned by Validate when the credential keyring has
// no password outside development.
var ErrKeyringPassword = errors.New("KEYRING_PASSWORD must be set outside development")

// devKeyringPassword encrypts the local keyring in development only.
const devKeyringPassword = "student-mail-dev"

// Validate checks settings that cannot be defaulted safely. In development an
// unset keyring password falls back to a local one.
func (c *Config) Validate() error {
	if c.KeyringPassword == "" {
		if !c.IsDevelopment() {
			return ErrKeyringPassword
		}
		c.KeyringPassword = devKeyringPassword
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
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
