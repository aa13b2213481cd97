package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Operator OperatorConfig
	Chains   map[int64]ChainConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the connection settings for the durable job queue.
// An empty Addr selects the in-memory queue instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig holds the fiat payment provider settings
type ProviderConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string // pre-shared HMAC secret for webhook payloads
}

// ChainConfig is the single source of chain -> RPC/contract mapping.
// Selecting a writer for a chain id not present here is a programming error.
type ChainConfig struct {
	ChainID         int64
	Name            string
	RPCEndpoint     string
	ContractAddress string // token bridge contract holding mint/burn records
	TokenAddress    string // ERC20 token contract
}

// OperatorConfig holds the custodial signing key and scheduler tuning
type OperatorConfig struct {
	EVMPrivateKey string

	// Flat platform fee deducted from offramp and bridge settlements,
	// in currency units.
	PlatformFee decimal.Decimal

	// Poll cadences. Onramp polling proxies user-visible deposit latency
	// and runs the tightest.
	OnrampInterval  time.Duration
	OfframpInterval time.Duration
	BridgeInterval  time.Duration

	// Delay applied to enqueued jobs to absorb provider eventual consistency.
	QueueDelay time.Duration

	// Number of concurrent job consumers. Bounds how many settlements are
	// handled at once; a slow chain confirmation only ties up one slot.
	WorkerConcurrency int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	platformFee, err := decimal.NewFromString(getEnv("PLATFORM_FEE", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "settlement_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			BaseURL:       getEnv("PROVIDER_BASE_URL", ""),
			SecretKey:     getEnv("PROVIDER_SECRET_KEY", ""),
			WebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		},
		Operator: OperatorConfig{
			EVMPrivateKey:     getEnv("OPERATOR_EVM_PRIVATE_KEY", ""),
			PlatformFee:       platformFee,
			OnrampInterval:    getEnvDuration("ONRAMP_POLL_INTERVAL", 30*time.Second),
			OfframpInterval:   getEnvDuration("OFFRAMP_POLL_INTERVAL", 60*time.Second),
			BridgeInterval:    getEnvDuration("BRIDGE_POLL_INTERVAL", 120*time.Second),
			QueueDelay:        getEnvDuration("QUEUE_DELAY", 30*time.Second),
			WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		},
		Chains: make(map[int64]ChainConfig),
	}

	if err := loadChainConfigs(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadChainConfigs reads the configured chain list from CHAIN_IDS and the
// per-chain variables CHAIN_<id>_RPC_ENDPOINT, CHAIN_<id>_NAME,
// CHAIN_<id>_CONTRACT_ADDRESS, CHAIN_<id>_TOKEN_ADDRESS.
func loadChainConfigs(cfg *Config) error {
	ids := getEnv("CHAIN_IDS", "")
	if ids == "" {
		return fmt.Errorf("CHAIN_IDS is required")
	}

	for _, raw := range strings.Split(ids, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		chainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chain id %q in CHAIN_IDS: %w", raw, err)
		}

		prefix := fmt.Sprintf("CHAIN_%d_", chainID)
		chain := ChainConfig{
			ChainID:         chainID,
			Name:            getEnv(prefix+"NAME", raw),
			RPCEndpoint:     getEnv(prefix+"RPC_ENDPOINT", ""),
			ContractAddress: getEnv(prefix+"CONTRACT_ADDRESS", ""),
			TokenAddress:    getEnv(prefix+"TOKEN_ADDRESS", ""),
		}
		if chain.RPCEndpoint == "" {
			return fmt.Errorf("%sRPC_ENDPOINT is required", prefix)
		}
		if chain.ContractAddress == "" {
			return fmt.Errorf("%sCONTRACT_ADDRESS is required", prefix)
		}
		if chain.TokenAddress == "" {
			return fmt.Errorf("%sTOKEN_ADDRESS is required", prefix)
		}

		cfg.Chains[chainID] = chain
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Operator.EVMPrivateKey == "" {
		return fmt.Errorf("operator EVM private key is required")
	}

	if c.Operator.PlatformFee.IsNegative() {
		return fmt.Errorf("platform fee must not be negative")
	}

	if c.Operator.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1: %d", c.Operator.WorkerConcurrency)
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
