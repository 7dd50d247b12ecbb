// Package config loads the Autonomic Evolution Core's configuration from an
// optional YAML file with environment-variable overrides, following the
// layered defaults -> file -> env override pipeline of the OCX backend's own
// internal/config/config.go.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec §6 plus the AEC-specific knobs
// SPEC_FULL.md §10.3 adds for components the external-interface list
// doesn't itemize in detail.
type Config struct {
	TokenSecret         string  `yaml:"token_secret"`
	AdminPublicKeyHex   string  `yaml:"admin_public_key_hex"`
	HighRiskThreshold   float64 `yaml:"high_risk_threshold"`
	ApprovalTimeoutMs   int64   `yaml:"approval_timeout_ms"`
	ValidatorTimeoutMs  int64   `yaml:"validator_timeout_ms"`
	StaleThresholdCycles int64  `yaml:"stale_threshold_cycles"`
	MaxArchiveBytes     int64   `yaml:"max_archive_bytes"`
	SandboxMemoryMB     int     `yaml:"sandbox_memory_mb"`
	SandboxTimeoutMs    int64   `yaml:"sandbox_timeout_ms"`

	CircuitFailureThreshold int   `yaml:"circuit_failure_threshold"`
	CircuitPenaltyMs        int64 `yaml:"circuit_penalty_ms"`

	ConsensusMaxRounds      int     `yaml:"consensus_max_rounds"`
	ConsensusMinAgree       float64 `yaml:"consensus_min_agree"`
	ConsensusValidatorCount int     `yaml:"consensus_validator_count"`

	RedisAddr string `yaml:"redis_addr"`
	DryRunReap bool  `yaml:"dry_run_reap"`
	ArchiveDir string `yaml:"archive_dir"`

	TokenMaxAgeMs int64 `yaml:"token_max_age_ms"`

	Env string `yaml:"env"`
}

// Default returns the configuration with every default value spec.md names
// (HIGH_RISK_THRESHOLD 0.8, APPROVAL_TIMEOUT_MS 24h, VALIDATOR_TIMEOUT_MS
// 30s, STALE_THRESHOLD_CYCLES 10000, sandbox deadline 5s, memory cap
// 128MiB, token freshness 5min, circuit penalty 5min/threshold 3,
// consensus MAX_ROUNDS 5 / MIN_AGREE 0.7).
func Default() *Config {
	return &Config{
		HighRiskThreshold:       0.8,
		ApprovalTimeoutMs:       int64(24 * time.Hour / time.Millisecond),
		ValidatorTimeoutMs:      int64(30 * time.Second / time.Millisecond),
		StaleThresholdCycles:    10_000,
		MaxArchiveBytes:         1 << 30, // 1 GiB
		SandboxMemoryMB:         128,
		SandboxTimeoutMs:        int64(5 * time.Second / time.Millisecond),
		CircuitFailureThreshold: 3,
		CircuitPenaltyMs:        int64(5 * time.Minute / time.Millisecond),
		ConsensusMaxRounds:      5,
		ConsensusMinAgree:       0.7,
		ConsensusValidatorCount: 3,
		RedisAddr:               "",
		DryRunReap:              true,
		TokenMaxAgeMs:           int64(5 * time.Minute / time.Millisecond),
		Env:                     "development",
	}
}

// Load reads path if it exists, falling back silently to defaults, then
// applies environment overrides. A missing file is not an error — it
// mirrors production deployments where config.yaml is optional and ENV is
// authoritative (the OCX backend's Get() singleton does the same).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if f, err := os.Open(path); err == nil {
			defer f.Close()
			loaded, decErr := decodeYAML(f, cfg)
			if decErr != nil {
				return nil, decErr
			}
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.TokenSecret = getEnv("TOKEN_SECRET", c.TokenSecret)
	c.AdminPublicKeyHex = getEnv("ADMIN_PUBLIC_KEY", c.AdminPublicKeyHex)

	if v := getEnvFloat("HIGH_RISK_THRESHOLD", 0); v > 0 {
		c.HighRiskThreshold = v
	}
	if v := getEnvInt64("APPROVAL_TIMEOUT_MS", 0); v > 0 {
		c.ApprovalTimeoutMs = v
	}
	if v := getEnvInt64("VALIDATOR_TIMEOUT_MS", 0); v > 0 {
		c.ValidatorTimeoutMs = v
	}
	if v := getEnvInt64("STALE_THRESHOLD_CYCLES", 0); v > 0 {
		c.StaleThresholdCycles = v
	}
	if v := getEnvInt64("MAX_ARCHIVE_BYTES", 0); v > 0 {
		c.MaxArchiveBytes = v
	}
	if v := getEnvInt("SANDBOX_MEMORY_MB", 0); v > 0 {
		c.SandboxMemoryMB = v
	}
	if v := getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 0); v > 0 {
		c.CircuitFailureThreshold = v
	}
	if v := getEnvInt64("CIRCUIT_PENALTY_MS", 0); v > 0 {
		c.CircuitPenaltyMs = v
	}
	if v := getEnvInt("CONSENSUS_MAX_ROUNDS", 0); v > 0 {
		c.ConsensusMaxRounds = v
	}
	if v := getEnvFloat("CONSENSUS_MIN_AGREE", 0); v > 0 {
		c.ConsensusMinAgree = v
	}
	if v := getEnvInt("CONSENSUS_VALIDATOR_COUNT", 0); v > 0 {
		c.ConsensusValidatorCount = v
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("DRY_RUN_REAP"); v != "" {
		c.DryRunReap = v == "true" || v == "1"
	}
	c.ArchiveDir = getEnv("ARCHIVE_DIR", c.ArchiveDir)
	c.Env = getEnv("AEC_ENV", c.Env)

	if c.TokenSecret == "" {
		slog.Warn("config: TOKEN_SECRET not set, vitality tokens will not survive restart")
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func (c *Config) IsProduction() bool { return c.Env == "production" }
