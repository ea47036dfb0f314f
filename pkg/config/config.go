package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel        string
	LedgerPath      string
	AuditPath       string
	ProfileDir      string
	TokenSecret     string
	GateTimeout     time.Duration
	IntentFreshness time.Duration
	TokenTTL        time.Duration
	MaxRetries      int
	DispatchRate    float64
	DispatchBurst   int
	OTLPEndpoint    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	ledgerPath := os.Getenv("LEDGER_PATH")
	if ledgerPath == "" {
		ledgerPath = "warden.db"
	}

	auditPath := os.Getenv("AUDIT_PATH")
	if auditPath == "" {
		auditPath = "audit.jsonl"
	}

	profileDir := os.Getenv("PROFILE_DIR")
	if profileDir == "" {
		profileDir = "profiles"
	}

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		// Development-only secret; production sets TOKEN_SECRET.
		tokenSecret = "warden-dev-secret"
	}

	return &Config{
		LogLevel:        logLevel,
		LedgerPath:      ledgerPath,
		AuditPath:       auditPath,
		ProfileDir:      profileDir,
		TokenSecret:     tokenSecret,
		GateTimeout:     envDuration("GATE_TIMEOUT", 5*time.Minute),
		IntentFreshness: envDuration("INTENT_FRESHNESS", 10*time.Minute),
		TokenTTL:        envDuration("TOKEN_TTL", 2*time.Minute),
		MaxRetries:      envInt("MAX_RETRIES", 3),
		DispatchRate:    envFloat("DISPATCH_RATE", 1),
		DispatchBurst:   envInt("DISPATCH_BURST", 3),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}
