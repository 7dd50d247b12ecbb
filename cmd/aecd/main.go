// Command aecd is the Autonomic Evolution Core's composition root and CLI,
// grounded on cmd/ocx-check's component diagnostic loop and cmd/ocx-cli's
// flag-parsed subcommand dispatch, generalized from an HTTP-client CLI into
// one that drives the in-process core directly.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/config"
	"github.com/ocx/aec/internal/workflow"
)

// Exit codes, per spec §6.
const (
	exitSuccess           = 0
	exitValidationFailure = 1
	exitConsensusVeto     = 2
	exitGovernanceTimeout = 3
	exitInternalError     = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitInternalError
	}

	cfg, err := config.Load(os.Getenv("AEC_CONFIG_FILE"))
	if err != nil {
		slog.Error("load config", "error", err)
		return exitInternalError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := newCore(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("initialize core", "error", err)
		return exitInternalError
	}

	switch args[0] {
	case "reaper":
		return c.runReaperCommand(ctx, args[1:])
	case "workflow":
		return c.runWorkflowCommand(ctx, args[1:])
	case "help", "--help", "-h":
		printUsage()
		return exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return exitInternalError
	}
}

func printUsage() {
	fmt.Println(`aecd - Autonomic Evolution Core

Usage:
  aecd reaper status|pulse|diagnostic|reap|live
  aecd workflow propose --file <path> --risk <float> [--target <id>]
  aecd workflow approve --id <workflow_id> --sig <hex>

Environment:
  AEC_CONFIG_FILE          optional YAML config path
  TOKEN_SECRET              vitality token HMAC secret
  ADMIN_PUBLIC_KEY          hex-encoded Ed25519 public key for approvals
  REDIS_ADDR                Redis address; omitted falls back to in-memory state`)
}

func (c *core) runReaperCommand(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aecd reaper status|pulse|diagnostic|reap|live")
		return exitInternalError
	}

	switch args[0] {
	case "status":
		snap := c.reaper.Snapshot()
		fmt.Printf("cycle=%d entities=%d\n", c.reaper.Cycle(), len(snap))
		for id, e := range snap {
			fmt.Printf("  %-20s path=%-30s dependents=%d last_vitality_cycle=%d\n", id, e.Path, e.Dependents, e.LastVitalityCycle)
		}
		return exitSuccess

	case "pulse":
		cycle, err := c.reaper.AdvanceCycle(ctx)
		if err != nil {
			slog.Error("advance cycle", "error", err)
			return exitInternalError
		}
		c.collector.SetReaperCycle(cycle)
		fmt.Printf("cycle=%d\n", cycle)
		return exitSuccess

	case "diagnostic":
		fmt.Printf("stale_threshold=%d max_archive_bytes=%d dry_run=%v env=%s\n",
			c.cfg.StaleThresholdCycles, c.cfg.MaxArchiveBytes, c.cfg.DryRunReap, c.cfg.Env)
		return exitSuccess

	case "reap":
		report := c.reaper.Reap(ctx)
		c.collector.ObserveReap(report)
		fmt.Printf("scanned=%d marked=%d archived=%d preserved=%d bytes_saved=%d\n",
			report.Scanned, report.Marked, report.Archived, report.Preserved, report.BytesSaved)
		for _, d := range report.DeathList {
			fmt.Printf("  DEAD %-20s reason=%-8s age=%-6d revival_key=%s\n", d.EntityID, d.Reason, d.Age, d.RevivalKey)
		}
		return exitSuccess

	case "live":
		return c.runReaperLive(ctx)

	default:
		fmt.Fprintf(os.Stderr, "unknown reaper command: %s\n", args[0])
		return exitInternalError
	}
}

// runReaperLive advances the cycle once a second until interrupted,
// printing a status line per tick, mirroring cmd/ocx-check's diagnostic
// loop generalized into a continuous monitor.
func (c *core) runReaperLive(ctx context.Context) int {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	fmt.Println("live reaper monitor, ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			return exitSuccess
		case <-ticker.C:
			cycle, err := c.reaper.AdvanceCycle(ctx)
			if err != nil {
				slog.Error("advance cycle", "error", err)
				return exitInternalError
			}
			c.collector.SetReaperCycle(cycle)
			fmt.Printf("[%s] cycle=%d entities=%d\n", time.Now().UTC().Format(time.RFC3339), cycle, len(c.reaper.Snapshot()))
		}
	}
}

func (c *core) runWorkflowCommand(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aecd workflow propose|approve ...")
		return exitInternalError
	}

	switch args[0] {
	case "propose":
		return c.cmdPropose(ctx, args[1:])
	case "approve":
		return c.cmdApprove(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown workflow command: %s\n", args[0])
		return exitInternalError
	}
}

func (c *core) cmdPropose(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("propose", flag.ContinueOnError)
	file := fs.String("file", "", "path to the mutation payload")
	risk := fs.Float64("risk", 0, "risk score in [0,1]")
	target := fs.String("target", "", "target id; defaults to the --file path")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "propose: --file is required")
		return exitInternalError
	}

	payload, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "propose: read %s: %v\n", *file, err)
		return exitInternalError
	}

	targetID := *target
	if targetID == "" {
		targetID = *file
	}

	instance, err := c.machine.Propose(ctx, workflow.Mutation{
		TargetID:  targetID,
		Payload:   payload,
		RiskScore: *risk,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "propose: %v\n", err)
		return exitInternalError
	}

	fmt.Printf("workflow_id=%s stage=%s\n", instance.WorkflowID, instance.Stage)
	return exitCodeFor(instance)
}

func (c *core) cmdApprove(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	id := fs.String("id", "", "workflow id")
	sigHex := fs.String("sig", "", "administrator signature, lowercase hex")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "approve: --id is required")
		return exitInternalError
	}

	sig, err := hex.DecodeString(*sigHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "approve: decode --sig: %v\n", err)
		return exitInternalError
	}

	instance, err := c.machine.Approve(ctx, *id, sig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "approve: %v\n", err)
		return exitInternalError
	}

	fmt.Printf("workflow_id=%s stage=%s\n", instance.WorkflowID, instance.Stage)
	return exitCodeFor(instance)
}

// exitCodeFor maps a terminal workflow's failure reason to spec §6's exit
// code table; a non-FAILED outcome is success, and a failure reason outside
// the table maps to exitInternalError.
func exitCodeFor(instance *workflow.WorkflowInstance) int {
	if instance.Stage != workflow.StageFailed {
		return exitSuccess
	}
	switch instance.FailureReason {
	case aecerr.ReasonStaticForbidden, aecerr.ReasonSandboxTimeout, aecerr.ReasonSandboxCrash, aecerr.ReasonHealExhausted:
		return exitValidationFailure
	case aecerr.ReasonConsensusVeto:
		return exitConsensusVeto
	case aecerr.ReasonGovernanceTimeout:
		return exitGovernanceTimeout
	default:
		return exitInternalError
	}
}
