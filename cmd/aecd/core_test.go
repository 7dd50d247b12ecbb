package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/config"
	"github.com/ocx/aec/internal/workflow"
)

func testCore(t *testing.T) *core {
	t.Helper()
	cfg := config.Default()
	cfg.TokenSecret = "test-secret"
	c, err := newCore(context.Background(), cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newCore: %v", err)
	}
	return c
}

func writeMutationFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mutation.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write mutation file: %v", err)
	}
	return path
}

func TestCmdPropose_LowRiskCleanMutationCommits(t *testing.T) {
	c := testCore(t)
	path := writeMutationFile(t, "x = 1")

	code := c.cmdPropose(context.Background(), []string{"--file", path, "--risk", "0.1"})
	if code != exitSuccess {
		t.Fatalf("exit code = %d, want %d (success)", code, exitSuccess)
	}
}

func TestCmdPropose_DangerousPayloadExitsValidationFailure(t *testing.T) {
	c := testCore(t)
	path := writeMutationFile(t, "os.RemoveAll(\"/\")")

	code := c.cmdPropose(context.Background(), []string{"--file", path, "--risk", "0.1"})
	if code != exitValidationFailure {
		t.Fatalf("exit code = %d, want %d (validation failure)", code, exitValidationFailure)
	}
}

func TestCmdPropose_MissingFileExitsInternalError(t *testing.T) {
	c := testCore(t)
	code := c.cmdPropose(context.Background(), []string{"--risk", "0.1"})
	if code != exitInternalError {
		t.Fatalf("exit code = %d, want %d (internal error)", code, exitInternalError)
	}
}

func TestCmdApprove_MissingIDExitsInternalError(t *testing.T) {
	c := testCore(t)
	code := c.cmdApprove(context.Background(), []string{"--sig", "aa"})
	if code != exitInternalError {
		t.Fatalf("exit code = %d, want %d (internal error)", code, exitInternalError)
	}
}

func TestCmdApprove_UnknownWorkflowExitsInternalError(t *testing.T) {
	c := testCore(t)
	code := c.cmdApprove(context.Background(), []string{"--id", "does-not-exist", "--sig", "aa"})
	if code != exitInternalError {
		t.Fatalf("exit code = %d, want %d (internal error)", code, exitInternalError)
	}
}

func TestReaperCommand_StatusAndPulseSucceed(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()
	if code := c.runReaperCommand(ctx, []string{"status"}); code != exitSuccess {
		t.Fatalf("status exit code = %d, want success", code)
	}
	if code := c.runReaperCommand(ctx, []string{"pulse"}); code != exitSuccess {
		t.Fatalf("pulse exit code = %d, want success", code)
	}
	if code := c.runReaperCommand(ctx, []string{"reap"}); code != exitSuccess {
		t.Fatalf("reap exit code = %d, want success", code)
	}
	if code := c.runReaperCommand(ctx, []string{"diagnostic"}); code != exitSuccess {
		t.Fatalf("diagnostic exit code = %d, want success", code)
	}
}

func TestExitCodeFor_MapsEachFailureReason(t *testing.T) {
	cases := []struct {
		reason aecerr.Reason
		stage  workflow.Stage
		want   int
	}{
		{aecerr.ReasonNone, workflow.StageDone, exitSuccess},
		{aecerr.ReasonStaticForbidden, workflow.StageFailed, exitValidationFailure},
		{aecerr.ReasonSandboxCrash, workflow.StageFailed, exitValidationFailure},
		{aecerr.ReasonHealExhausted, workflow.StageFailed, exitValidationFailure},
		{aecerr.ReasonConsensusVeto, workflow.StageFailed, exitConsensusVeto},
		{aecerr.ReasonGovernanceTimeout, workflow.StageFailed, exitGovernanceTimeout},
		{aecerr.ReasonSignatureInvalid, workflow.StageFailed, exitInternalError},
	}
	for _, tc := range cases {
		instance := &workflow.WorkflowInstance{Stage: tc.stage, FailureReason: tc.reason}
		if got := exitCodeFor(instance); got != tc.want {
			t.Errorf("exitCodeFor(stage=%s reason=%s) = %d, want %d", tc.stage, tc.reason, got, tc.want)
		}
	}
}
