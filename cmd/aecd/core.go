package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocx/aec/internal/clock"
	"github.com/ocx/aec/internal/config"
	"github.com/ocx/aec/internal/consensus"
	"github.com/ocx/aec/internal/healing"
	"github.com/ocx/aec/internal/metrics"
	"github.com/ocx/aec/internal/reaper"
	"github.com/ocx/aec/internal/sandbox"
	"github.com/ocx/aec/internal/store"
	"github.com/ocx/aec/internal/vitality"
	"github.com/ocx/aec/internal/workflow"
)

// core is the composition root: one instance of each component, wired by
// interface, grounded on cmd/api/main.go's wiring style (load config,
// construct infra, wire dependents in dependency order, fall back to an
// in-memory store when Redis isn't configured).
type core struct {
	cfg       *config.Config
	kv        store.KV
	clk       clock.Clock
	collector *metrics.Collectors
	reaper    *reaper.Reaper
	machine   *workflow.Machine
}

// newCore wires one instance of every component against reg, the
// Prometheus registerer collectors are registered into. main passes
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry()
// per call so repeated construction within one test binary never collides
// on an already-registered collector name.
func newCore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*core, error) {
	var kv store.KV
	if cfg.RedisAddr != "" {
		kv = store.NewRedis(cfg.RedisAddr, "aec:")
		slog.Info("using Redis-backed persistence", "addr", cfg.RedisAddr)
	} else {
		kv = store.NewMemory()
		slog.Warn("no REDIS_ADDR configured, using in-memory persistence", "consequence", "state will not survive a restart")
	}

	clk := clock.New()
	collector := metrics.New(reg)

	sandboxEx := sandbox.NewExecutor("", cfg.SandboxMemoryMB)

	healer := healing.New(healing.Config{
		Clock:            clk,
		CircuitThreshold: cfg.CircuitFailureThreshold,
		CircuitPenalty:   time.Duration(cfg.CircuitPenaltyMs) * time.Millisecond,
		OnEvent:          collector.ObserveHealing,
	})

	payloadCache := consensus.NewPayloadCache()
	consensusHistory := consensus.NewHistory()
	validators := localAdversarialValidators(cfg.ConsensusValidatorCount, payloadCache, consensusHistory)
	engine := consensus.New(consensus.Config{
		Validators:       validators,
		ValidatorTimeout: time.Duration(cfg.ValidatorTimeoutMs) * time.Millisecond,
		MaxRounds:        cfg.ConsensusMaxRounds,
		MinAgree:         cfg.ConsensusMinAgree,
		History:          consensusHistory,
		PayloadOf:        payloadCache.Get,
	})

	vitalitySvc := vitality.New(vitality.Config{Secret: cfg.TokenSecret, Clock: clk})

	var archiver reaper.Archiver
	if cfg.ArchiveDir != "" {
		fa, err := reaper.NewFileArchiver(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("construct archiver: %w", err)
		}
		archiver = fa
	} else {
		slog.Warn("no ARCHIVE_DIR configured, reap() will mark entities but never move artifacts")
	}

	reaperSvc, err := reaper.New(ctx, reaper.Config{
		Store:           kv,
		Clock:           clk,
		Vitality:        vitalitySvc,
		Archive:         archiver,
		StaleThreshold:  cfg.StaleThresholdCycles,
		MaxArchiveBytes: cfg.MaxArchiveBytes,
		DryRun:          cfg.DryRunReap,
		OnEvent: func(ev reaper.Event) {
			slog.Info("reaper event", "kind", ev.Kind, "entity", ev.EntityID, "cycle", ev.Cycle)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("construct reaper: %w", err)
	}

	adminKey, err := hex.DecodeString(cfg.AdminPublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode ADMIN_PUBLIC_KEY: %w", err)
	}

	machine := workflow.New(workflow.Config{
		Store:             kv,
		Clock:             clk,
		SandboxExecutor:   sandboxEx,
		Healer:            healer,
		Consensus:         engine,
		Vitality:          vitalitySvc,
		Reaper:            reaperSvc,
		OnEvent:           collector.ObserveWorkflow,
		PayloadCache:      payloadCache,
		AdminPublicKey:    adminKey,
		HighRiskThreshold: cfg.HighRiskThreshold,
		ApprovalTimeoutMs: cfg.ApprovalTimeoutMs,
		SandboxDeadline:   time.Duration(cfg.SandboxTimeoutMs) * time.Millisecond,
	})

	return &core{cfg: cfg, kv: kv, clk: clk, collector: collector, reaper: reaperSvc, machine: machine}, nil
}

// localAdversarialValidators registers n independent consensus.LocalValidator
// instances, each running the same local simulation a remote twin service
// would, so Engine.Verify actually exercises its broadcast -> aggregate ->
// dialectic refinement loop (spec §2/§4.5 phases 1-4) rather than always
// falling to its single-shot zero-validator fallback. Until a real twin
// service is wired, these stand in for the "N adversarial validators" the
// spec names.
func localAdversarialValidators(n int, payloads *consensus.PayloadCache, history *consensus.History) []consensus.Validator {
	if n <= 0 {
		n = 3
	}
	validators := make([]consensus.Validator, n)
	for i := range validators {
		validators[i] = consensus.LocalValidator{
			ID:        fmt.Sprintf("local-adversarial-%d", i+1),
			PayloadOf: payloads.Get,
			History:   history,
		}
	}
	return validators
}
