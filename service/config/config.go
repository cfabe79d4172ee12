package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/timeout"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Solana configuration
	SolanaRPCURL string
	SolanaWSURL  string
	Commitment   rpc.CommitmentType

	// NATS configuration (optional; empty disables event publishing)
	NATSURL string

	// Submission cadence configuration
	ResendInterval         time.Duration
	StatusPollInterval     time.Duration
	ExpirationPollInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	// Websocket endpoint is optional; without it, confirmation relies on
	// status polling alone.
	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")

	commitment, err := parseCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Commitment = commitment
	}

	cfg.NATSURL = os.Getenv("NATS_URL")

	resendInterval, err := parseDuration("RESEND_INTERVAL", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ResendInterval = resendInterval
	}

	statusInterval, err := parseDuration("STATUS_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StatusPollInterval = statusInterval
	}

	expirationInterval, err := parseDuration("EXPIRATION_POLL_INTERVAL", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExpirationPollInterval = expirationInterval
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
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

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	switch c.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("Commitment must be processed, confirmed, or finalized"))
	}

	if c.ResendInterval <= 0 {
		errs = append(errs, fmt.Errorf("ResendInterval must be positive"))
	}

	if c.StatusPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("StatusPollInterval must be positive"))
	}

	if c.ExpirationPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ExpirationPollInterval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// DefaultTimeout builds a static timeout configuration seeded with the
// configured commitment and cadences.
func (c *Config) DefaultTimeout(d time.Duration) timeout.Config {
	cfg := timeout.Static(d)
	cfg.InitialCommitment = c.Commitment
	cfg.StatusPollInterval = c.StatusPollInterval
	cfg.ResendInterval = c.ResendInterval
	cfg.ExpirationPollInterval = c.ExpirationPollInterval
	return cfg
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

// parseCommitment parses a commitment level from an environment variable or
// uses a default.
func parseCommitment(key string, defaultValue rpc.CommitmentType) (rpc.CommitmentType, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	switch c := rpc.CommitmentType(value); c {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return c, nil
	}
	return "", fmt.Errorf("%s: invalid commitment %q (must be processed, confirmed, or finalized)", key, value)
}
