// Package workflow implements C6, the Evolution Workflow: a durable state
// machine sequencing sandbox validation, healing, consensus, an optional
// human-approval gate, and atomic commit. Grounded on
// internal/governance/{pending_vault,revertible,task_gate}.go (the
// speculative-action-pending-a-verdict shape: queue an action, wait for an
// external verdict, commit or compensate) and internal/state/snapshot_service.go
// (state hashing for verification).
package workflow

import (
	"time"

	"github.com/ocx/aec/internal/aecerr"
)

// Stage is a node in the workflow's state machine (spec §4.6).
type Stage string

const (
	StageValidating       Stage = "VALIDATING"
	StageHealing          Stage = "HEALING"
	StageConsensus        Stage = "CONSENSUS"
	StageAwaitingApproval Stage = "AWAITING_APPROVAL"
	StageCommitting       Stage = "COMMITTING"
	StageDone             Stage = "DONE"
	StageFailed           Stage = "FAILED"
)

// HistoryEntry is one append-only record of a stage transition.
type HistoryEntry struct {
	Stage       Stage
	TimestampMs int64
	Outcome     string
}

// Mutation is the candidate change a workflow carries through the
// pipeline (spec §3's Mutation entity).
type Mutation struct {
	TargetID  string
	Payload   []byte
	Command   []string
	RiskScore float64
}

// WorkflowInstance is C6's durable record (spec §3).
type WorkflowInstance struct {
	WorkflowID         string
	Stage              Stage
	Mutation           Mutation
	RiskScore          float64
	PendingSignature   []byte
	History            []HistoryEntry
	ProofHash          [32]byte
	CreatedAtMs        int64
	ApprovalDeadlineMs int64
	FailureReason      aecerr.Reason
	RetriedOnce        bool
	LastSandboxError   string
}

func (w *WorkflowInstance) appendHistory(stage Stage, ts int64, outcome string) {
	w.History = append(w.History, HistoryEntry{Stage: stage, TimestampMs: ts, Outcome: outcome})
}

// DefaultApprovalTimeout is AWAITING_APPROVAL's bounded deadline (spec
// §4.6, default 24h).
const DefaultApprovalTimeout = 24 * time.Hour

// DefaultHighRiskThreshold gates whether a workflow needs human approval
// (spec §4.6, default 0.8).
const DefaultHighRiskThreshold = 0.8
