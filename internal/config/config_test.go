package config

import (
	"os"
	"testing"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	if cfg.HighRiskThreshold != 0.8 {
		t.Errorf("HighRiskThreshold = %v, want 0.8", cfg.HighRiskThreshold)
	}
	if cfg.StaleThresholdCycles != 10_000 {
		t.Errorf("StaleThresholdCycles = %v, want 10000", cfg.StaleThresholdCycles)
	}
	if !cfg.DryRunReap {
		t.Error("DryRunReap should default to true")
	}
	if cfg.ConsensusMaxRounds != 5 || cfg.ConsensusMinAgree != 0.7 {
		t.Errorf("consensus defaults = (%d, %v), want (5, 0.7)", cfg.ConsensusMaxRounds, cfg.ConsensusMinAgree)
	}
	if cfg.ConsensusValidatorCount != 3 {
		t.Errorf("ConsensusValidatorCount = %d, want 3", cfg.ConsensusValidatorCount)
	}
}

func TestLoad_ConsensusValidatorCountEnvOverride(t *testing.T) {
	t.Setenv("CONSENSUS_VALIDATOR_COUNT", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConsensusValidatorCount != 5 {
		t.Errorf("ConsensusValidatorCount = %d, want 5", cfg.ConsensusValidatorCount)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not error on missing file: %v", err)
	}
	if cfg.HighRiskThreshold != 0.8 {
		t.Errorf("expected default threshold, got %v", cfg.HighRiskThreshold)
	}
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("HIGH_RISK_THRESHOLD", "0.95")
	t.Setenv("TOKEN_SECRET", "s3cr3t")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HighRiskThreshold != 0.95 {
		t.Errorf("HighRiskThreshold = %v, want 0.95", cfg.HighRiskThreshold)
	}
	if cfg.TokenSecret != "s3cr3t" {
		t.Errorf("TokenSecret = %q, want s3cr3t", cfg.TokenSecret)
	}
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("high_risk_threshold: 0.6\nmax_archive_bytes: 2048\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HighRiskThreshold != 0.6 {
		t.Errorf("HighRiskThreshold = %v, want 0.6 from file", cfg.HighRiskThreshold)
	}
	if cfg.MaxArchiveBytes != 2048 {
		t.Errorf("MaxArchiveBytes = %v, want 2048", cfg.MaxArchiveBytes)
	}
	// Untouched field keeps its default.
	if cfg.SandboxMemoryMB != 128 {
		t.Errorf("SandboxMemoryMB = %v, want default 128", cfg.SandboxMemoryMB)
	}
}
