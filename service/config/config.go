package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
// Configuration is an explicit value passed to components, never ambient state.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL string
	Network      string // "localnet", "devnet", or "mainnet"
	ProgramID    string
	KeypairPath  string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Bootstrap confirmation configuration
	ConfirmInterval  time.Duration
	ConfirmTimeout   time.Duration
	MaxSubmitRetries int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "http://localhost:8899")
	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", "localnet")
	switch cfg.Network {
	case "localnet", "devnet", "mainnet":
	default:
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be localnet, devnet, or mainnet, got %q", cfg.Network))
	}

	cfg.ProgramID = os.Getenv("PROGRAM_ID")
	if cfg.ProgramID == "" {
		errs = append(errs, fmt.Errorf("PROGRAM_ID is required"))
	}

	cfg.KeypairPath = os.Getenv("KEYPAIR_PATH")
	if cfg.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KEYPAIR_PATH is required"))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solboot-bootstrap")

	// Confirmation configuration
	confirmInterval, err := parseDuration("CONFIRM_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmInterval = confirmInterval
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	maxRetries, err := parseInt("MAX_SUBMIT_RETRIES", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxSubmitRetries = maxRetries
	}

	if cfg.ConfirmInterval >= cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_INTERVAL (%v) must be less than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmInterval, cfg.ConfirmTimeout))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.ProgramID == "" {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if c.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KeypairPath is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmInterval must be positive"))
	}

	if c.ConfirmInterval >= c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmInterval must be less than ConfirmTimeout"))
	}

	if c.MaxSubmitRetries < 0 {
		errs = append(errs, fmt.Errorf("MaxSubmitRetries cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
