package workflow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/store"
)

const (
	workflowKeyPrefix = "workflow/"
	appliedKeyPrefix  = "applied/"
)

// wireInstance is WorkflowInstance's JSON-serializable shadow; ProofHash
// is hex-encoded since [32]byte doesn't round-trip through JSON cleanly.
type wireInstance struct {
	WorkflowID         string
	Stage              Stage
	Mutation           Mutation
	RiskScore          float64
	PendingSignature   []byte
	History            []HistoryEntry
	ProofHash          string
	CreatedAtMs        int64
	ApprovalDeadlineMs int64
	FailureReason      aecerr.Reason
	RetriedOnce        bool
	LastSandboxError   string
}

func toWire(w *WorkflowInstance) wireInstance {
	return wireInstance{
		WorkflowID:         w.WorkflowID,
		Stage:              w.Stage,
		Mutation:           w.Mutation,
		RiskScore:          w.RiskScore,
		PendingSignature:   w.PendingSignature,
		History:            w.History,
		ProofHash:          hex.EncodeToString(w.ProofHash[:]),
		CreatedAtMs:        w.CreatedAtMs,
		ApprovalDeadlineMs: w.ApprovalDeadlineMs,
		FailureReason:      w.FailureReason,
		RetriedOnce:        w.RetriedOnce,
		LastSandboxError:   w.LastSandboxError,
	}
}

func fromWire(w wireInstance) (*WorkflowInstance, error) {
	inst := &WorkflowInstance{
		WorkflowID:         w.WorkflowID,
		Stage:              w.Stage,
		Mutation:           w.Mutation,
		RiskScore:          w.RiskScore,
		PendingSignature:   w.PendingSignature,
		History:            w.History,
		CreatedAtMs:        w.CreatedAtMs,
		ApprovalDeadlineMs: w.ApprovalDeadlineMs,
		FailureReason:      w.FailureReason,
		RetriedOnce:        w.RetriedOnce,
		LastSandboxError:   w.LastSandboxError,
	}
	if w.ProofHash != "" {
		b, err := hex.DecodeString(w.ProofHash)
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("workflow: corrupt proof hash in persisted instance %s", w.WorkflowID)
		}
		copy(inst.ProofHash[:], b)
	}
	return inst, nil
}

// save persists instance before the caller proceeds to the next action,
// per spec §4.6's "every transition is persisted before the next action
// executes".
func save(ctx context.Context, kv store.KV, instance *WorkflowInstance) error {
	data, err := json.Marshal(toWire(instance))
	if err != nil {
		return fmt.Errorf("workflow: marshal instance %s: %w", instance.WorkflowID, err)
	}
	if err := store.WithRetry(func() error {
		return kv.Put(ctx, workflowKeyPrefix+instance.WorkflowID, data)
	}); err != nil {
		return fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	return nil
}

// load reloads a workflow instance by id, used both by Approve/Cancel and
// by process-restart resumption.
func load(ctx context.Context, kv store.KV, workflowID string) (*WorkflowInstance, error) {
	data, ok, err := kv.Get(ctx, workflowKeyPrefix+workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	if !ok {
		return nil, aecerr.ErrWorkflowNotFound
	}
	var w wireInstance
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("workflow: corrupt persisted instance %s: %w", workflowID, err)
	}
	return fromWire(w)
}

// isApplied reports whether proofHash has already been committed by a
// prior workflow instance.
func isApplied(ctx context.Context, kv store.KV, proofHash [32]byte) (bool, error) {
	_, ok, err := kv.Get(ctx, appliedKeyPrefix+hex.EncodeToString(proofHash[:]))
	if err != nil {
		return false, fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	return ok, nil
}

// markApplied records proofHash as committed.
func markApplied(ctx context.Context, kv store.KV, proofHash [32]byte) error {
	if err := kv.Put(ctx, appliedKeyPrefix+hex.EncodeToString(proofHash[:]), []byte{1}); err != nil {
		return fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	return nil
}
