// Package sandbox implements C1: static and dynamic safety checks on a
// candidate mutation before it is allowed anywhere near consensus or commit.
// Grounded on internal/gvisor/sandbox_executor.go's "probe for an OS
// isolation binary at startup, fall back to a demo mode that never crashes
// the caller" shape, generalized from gVisor specifically to any isolation
// backend spec §4.1 allows.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"time"

	"github.com/ocx/aec/internal/aecerr"
)

// Mutation is the candidate change under validation. Payload is its textual
// form (what the denylist scans); Command, if non-empty, is its executable
// representation (argv) for the dynamic phase.
type Mutation struct {
	TargetID string
	Payload  []byte
	Command  []string
}

// ValidateResult is the outcome of the static check.
type ValidateResult struct {
	Safe   bool
	Reason string
}

// ExecResult is the outcome of the dynamic check.
type ExecResult struct {
	OK     bool
	Stdout string
	Error  string
}

// denylist groups every pattern category spec §4.1 requires be checked,
// each independently sufficient to fail validation.
var denylist = []struct {
	category string
	pattern  *regexp.Regexp
}{
	{"filesystem", regexp.MustCompile(`(?i)\b(os\.Remove|os\.RemoveAll|ioutil\.WriteFile|unlink|rm\s+-rf|open\s*\(\s*["'].*["']\s*,\s*["']w)`)},
	{"process-spawn", regexp.MustCompile(`(?i)\b(exec\.Command|os/exec|subprocess|fork\(|posix_spawn|ShellExecute|/bin/sh|cmd\.exe)`)},
	{"network", regexp.MustCompile(`(?i)\b(net\.Dial|http\.Get|http\.Post|socket\(|connect\(|requests\.get|fetch\s*\()`)},
	{"eval", regexp.MustCompile(`(?i)\b(eval\s*\(|new Function\s*\(|exec\s*\(\s*compile|Function\s*\(\s*["'])`)},
	{"termination", regexp.MustCompile(`(?i)\b(os\.Exit|syscall\.Kill|process\.exit|SIGKILL|TerminateProcess)`)},
	{"prototype-pollution", regexp.MustCompile(`__proto__|constructor\.prototype|Object\.setPrototypeOf`)},
}

// maxShannonEntropy is the Shannon-entropy ceiling (bits per character) a
// mutation payload may carry before Validate treats it as suspected
// obfuscated or packed content rather than source text. Plain business
// logic and prose sit around 3.5-4.5; base64/compressed/encrypted blobs
// routinely clear 5.5, the same default internal/security/entropy.go's
// EntropyAuditor used.
const maxShannonEntropy = 5.5

// shannonEntropy measures the randomness of data in bits per character.
func shannonEntropy(data string) float64 {
	if len(data) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range data {
		counts[r]++
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(len(data))
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Validate performs the regex denylist over mutation's textual form, plus a
// Shannon-entropy check for obfuscated payloads. Denylist categories are
// checked in order and validation fails fast on the first hit, so a payload
// that passes has been checked against every category.
func Validate(m Mutation) ValidateResult {
	text := string(m.Payload)
	for _, rule := range denylist {
		if rule.pattern.Find([]byte(text)) != nil {
			return ValidateResult{
				Safe:   false,
				Reason: fmt.Sprintf("denylist category %q matched", rule.category),
			}
		}
	}
	if e := shannonEntropy(text); e > maxShannonEntropy {
		return ValidateResult{
			Safe:   false,
			Reason: fmt.Sprintf("payload entropy %.2f exceeds %.2f, suspected obfuscation", e, maxShannonEntropy),
		}
	}
	return ValidateResult{Safe: true}
}

// sandboxEnv is the only environment a dynamic execution ever sees, per
// spec §4.1's "no access to the host process' environment variables beyond
// a sanitized allowlist".
var sandboxEnv = []string{"TZ=UTC", "ENV=sandbox"}

// DefaultMemoryMB is the dynamic-execution memory cap spec §4.1 defaults to.
const DefaultMemoryMB = 128

// Executor runs the dynamic phase. When the configured isolation binary is
// found on PATH, commands run under sh with a ulimit memory cap; the
// isolation binary itself is not invoked. Otherwise commands run as a plain
// child process with no memory cap. Both backends honor the same contract:
// hard deadline, sanitized env, deterministic failure mode.
type Executor struct {
	isolationBinary string
	available       bool
	memoryMB        int
}

// NewExecutor probes for isolationBinary (e.g. "runsc", "nsjail") on PATH.
// If empty or not found, the executor runs every mutation through the
// in-process fallback.
func NewExecutor(isolationBinary string, memoryMB int) *Executor {
	if memoryMB <= 0 {
		memoryMB = DefaultMemoryMB
	}
	available := false
	if isolationBinary != "" {
		if _, err := exec.LookPath(isolationBinary); err == nil {
			available = true
		} else {
			slog.Warn("sandbox: isolation binary not found, falling back to in-process execution",
				"binary", isolationBinary, "error", err)
		}
	}
	return &Executor{isolationBinary: isolationBinary, available: available, memoryMB: memoryMB}
}

// IsolationAvailable reports whether the isolation binary was found, which
// selects the memory-capped backend.
func (e *Executor) IsolationAvailable() bool {
	return e.available
}

// Execute runs m.Command under deadline. Any uncaught termination —
// nonzero exit, signal, deadline exceeded — is surfaced as ok=false, never
// as a panic or error the caller must separately check (spec §4.1: "treat
// any uncaught termination as ok=false").
func (e *Executor) Execute(ctx context.Context, m Mutation, deadline time.Duration) ExecResult {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if len(m.Command) == 0 {
		return ExecResult{OK: false, Error: aecerr.ErrSandboxCrash.Error()}
	}

	if e.available {
		return e.executeIsolated(ctx, m)
	}
	return e.executeInProcess(ctx, m)
}

func (e *Executor) executeIsolated(ctx context.Context, m Mutation) ExecResult {
	// Wrap the command so the memory cap is enforced by the shell's ulimit
	// rather than requiring platform-specific rlimit plumbing in-process.
	shellCmd := fmt.Sprintf("ulimit -v %d 2>/dev/null; exec \"$@\"", e.memoryMB*1024)
	args := append([]string{shellCmd, "--"}, m.Command...)
	cmd := exec.CommandContext(ctx, "sh", append([]string{"-c"}, args...)...)
	cmd.Env = sandboxEnv

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ExecResult{OK: false, Error: aecerr.ErrSandboxTimeout.Error()}
	}
	if err != nil {
		return ExecResult{OK: false, Stdout: stdout.String(), Error: crashMessage(stderr.String(), err)}
	}
	return ExecResult{OK: true, Stdout: stdout.String()}
}

// executeInProcess is the fallback backend used when no OS isolation binary
// is available. It runs the command as a regular child process (the
// in-process "interpreter" the contract calls for, scoped here to process
// isolation rather than a bespoke bytecode VM) under the identical deadline
// and env-sanitization contract.
func (e *Executor) executeInProcess(ctx context.Context, m Mutation) ExecResult {
	cmd := exec.CommandContext(ctx, m.Command[0], m.Command[1:]...)
	cmd.Env = sandboxEnv

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return ExecResult{OK: false, Error: aecerr.ErrSandboxTimeout.Error()}
	case err := <-done:
		if err != nil {
			return ExecResult{OK: false, Stdout: stdout.String(), Error: crashMessage(stderr.String(), err)}
		}
		return ExecResult{OK: true, Stdout: stdout.String()}
	}
}

// crashMessage prefers the command's own stderr text over the generic
// sentinel, so a classifier downstream (e.g. healing's error-signature
// lookup) can key off the real failure rather than a fixed string.
func crashMessage(stderr string, runErr error) string {
	if stderr != "" {
		return stderr
	}
	if runErr != nil {
		return aecerr.ErrSandboxCrash.Error() + ": " + runErr.Error()
	}
	return aecerr.ErrSandboxCrash.Error()
}
