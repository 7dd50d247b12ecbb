package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/clock"
	"github.com/ocx/aec/internal/consensus"
	"github.com/ocx/aec/internal/healing"
	"github.com/ocx/aec/internal/notary"
	"github.com/ocx/aec/internal/sandbox"
	"github.com/ocx/aec/internal/store"
	"github.com/ocx/aec/internal/vitality"
)

// VitalityRegistrar is C7's inbound collaborator for the "on success, hand
// the new token to the reaper" step of spec §4.6. Expressed as an
// interface here, rather than importing internal/reaper directly, so the
// dependency edge is leaf-to-root (reaper never needs to know about
// workflow) and workflow tests can stub it trivially.
type VitalityRegistrar interface {
	RegisterVitality(ctx context.Context, moduleID, token string) (bool, error)
}

// verifyFunc checks an administrator's signature during AWAITING_APPROVAL.
// Backed by notary.Verify in New; expressed as a field so tests can
// substitute a deterministic verifier.
type verifyFunc func(payload, sig, pubKey []byte) bool

// Event is emitted on every stage transition, for metrics collection.
type Event struct {
	WorkflowID string
	Stage      Stage
	Reason     aecerr.Reason
	Outcome    string
}

// Machine drives WorkflowInstances through the C6 state machine.
type Machine struct {
	kv        store.KV
	clock     clock.Clock
	sandboxEx *sandbox.Executor
	healer    *healing.Dispatcher
	engine    *consensus.Engine
	vitality  *vitality.Service
	reaper    VitalityRegistrar
	verify    verifyFunc
	onEvent   func(Event)
	payloads  *consensus.PayloadCache

	adminPubKey       []byte
	highRiskThreshold float64
	approvalTimeoutMs int64
	sandboxDeadline   time.Duration
}

// Config configures a Machine.
type Config struct {
	Store             store.KV
	Clock             clock.Clock
	SandboxExecutor   *sandbox.Executor
	Healer            *healing.Dispatcher
	Consensus         *consensus.Engine
	Vitality          *vitality.Service
	Reaper            VitalityRegistrar
	OnEvent           func(Event)
	PayloadCache      *consensus.PayloadCache
	AdminPublicKey    []byte
	HighRiskThreshold float64
	ApprovalTimeoutMs int64
	SandboxDeadline   time.Duration
}

// New constructs a Machine.
func New(cfg Config) *Machine {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	threshold := cfg.HighRiskThreshold
	if threshold <= 0 {
		threshold = DefaultHighRiskThreshold
	}
	approvalTimeout := cfg.ApprovalTimeoutMs
	if approvalTimeout <= 0 {
		approvalTimeout = DefaultApprovalTimeout.Milliseconds()
	}
	sandboxDeadline := cfg.SandboxDeadline
	if sandboxDeadline <= 0 {
		sandboxDeadline = 5 * time.Second
	}
	return &Machine{
		kv:                cfg.Store,
		clock:             c,
		sandboxEx:         cfg.SandboxExecutor,
		healer:            cfg.Healer,
		engine:            cfg.Consensus,
		vitality:          cfg.Vitality,
		reaper:            cfg.Reaper,
		verify:            func(payload, sig, pubKey []byte) bool { return notary.Verify(payload, sig, pubKey) },
		onEvent:           cfg.OnEvent,
		payloads:          cfg.PayloadCache,
		adminPubKey:       cfg.AdminPublicKey,
		highRiskThreshold: threshold,
		approvalTimeoutMs: approvalTimeout,
		sandboxDeadline:   sandboxDeadline,
	}
}

// Propose creates a new workflow instance for mutation and drives it
// forward until it reaches a pause point (AWAITING_APPROVAL) or a
// terminal stage (DONE/FAILED).
func (m *Machine) Propose(ctx context.Context, mutation Mutation) (*WorkflowInstance, error) {
	id := uuid.New().String()
	instance := &WorkflowInstance{
		WorkflowID:  id,
		Stage:       StageValidating,
		Mutation:    mutation,
		RiskScore:   mutation.RiskScore,
		CreatedAtMs: m.clock.NowMillis(),
	}
	if err := save(ctx, m.kv, instance); err != nil {
		return nil, err
	}
	return m.drive(ctx, instance)
}

// Resume reloads a workflow by id and continues driving it from its
// persisted stage, the recovery path for a process restart.
func (m *Machine) Resume(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	instance, err := load(ctx, m.kv, workflowID)
	if err != nil {
		return nil, err
	}
	return m.drive(ctx, instance)
}

// Approve supplies an administrator's signature for a workflow paused at
// AWAITING_APPROVAL and resumes it toward COMMITTING.
func (m *Machine) Approve(ctx context.Context, workflowID string, signature []byte) (*WorkflowInstance, error) {
	instance, err := load(ctx, m.kv, workflowID)
	if err != nil {
		return nil, err
	}
	if instance.Stage != StageAwaitingApproval {
		return nil, fmt.Errorf("%w: workflow %s is in stage %s, not AWAITING_APPROVAL",
			aecerr.ErrInvalidTransition, workflowID, instance.Stage)
	}

	now := m.clock.NowMillis()
	if now > instance.ApprovalDeadlineMs {
		return m.fail(ctx, instance, aecerr.ReasonGovernanceTimeout, "approval deadline expired")
	}

	if len(signature) == 0 {
		return m.fail(ctx, instance, aecerr.ReasonSignatureMissing, "no signature provided")
	}
	if !m.verify(instance.Mutation.Payload, signature, m.adminPubKey) {
		return m.fail(ctx, instance, aecerr.ReasonSignatureInvalid, "signature verification failed")
	}

	instance.PendingSignature = signature
	instance.Stage = StageCommitting
	instance.appendHistory(StageCommitting, now, "signature accepted")
	if err := save(ctx, m.kv, instance); err != nil {
		return nil, err
	}
	m.emit(Event{WorkflowID: instance.WorkflowID, Stage: StageCommitting, Reason: aecerr.ReasonNone, Outcome: "signature accepted"})
	return m.drive(ctx, instance)
}

// Cancel aborts a workflow. VALIDATING/HEALING/CONSENSUS/AWAITING_APPROVAL
// transition immediately to FAILED with reason CANCELLED; COMMITTING is a
// no-op, per spec §4.6.
func (m *Machine) Cancel(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	instance, err := load(ctx, m.kv, workflowID)
	if err != nil {
		return nil, err
	}
	switch instance.Stage {
	case StageCommitting, StageDone, StageFailed:
		return instance, nil
	default:
		return m.fail(ctx, instance, aecerr.ReasonCancelled, "cancelled by caller")
	}
}

// drive runs the instance forward one stage at a time until it reaches a
// pause point or a terminal stage, persisting after every transition.
func (m *Machine) drive(ctx context.Context, instance *WorkflowInstance) (*WorkflowInstance, error) {
	for {
		switch instance.Stage {
		case StageValidating:
			if done, err := m.stepValidating(ctx, instance); err != nil || done {
				return instance, err
			}
		case StageHealing:
			if done, err := m.stepHealing(ctx, instance); err != nil || done {
				return instance, err
			}
		case StageConsensus:
			if done, err := m.stepConsensus(ctx, instance); err != nil || done {
				return instance, err
			}
		case StageAwaitingApproval:
			return instance, nil // pause: wait for Approve
		case StageCommitting:
			if done, err := m.stepCommitting(ctx, instance); err != nil || done {
				return instance, err
			}
		case StageDone, StageFailed:
			return instance, nil
		default:
			return instance, fmt.Errorf("%w: unknown stage %q", aecerr.ErrInvalidTransition, instance.Stage)
		}
	}
}

func (m *Machine) stepValidating(ctx context.Context, instance *WorkflowInstance) (bool, error) {
	staticRes := sandbox.Validate(sandbox.Mutation{TargetID: instance.Mutation.TargetID, Payload: instance.Mutation.Payload})
	if !staticRes.Safe {
		_, err := m.fail(ctx, instance, aecerr.ReasonStaticForbidden, staticRes.Reason)
		return true, err
	}

	if m.sandboxEx == nil || len(instance.Mutation.Command) == 0 {
		return m.advance(ctx, instance, StageConsensus, "static validation passed, no dynamic phase configured")
	}

	execRes := m.sandboxEx.Execute(ctx, sandbox.Mutation{
		TargetID: instance.Mutation.TargetID,
		Payload:  instance.Mutation.Payload,
		Command:  instance.Mutation.Command,
	}, m.sandboxDeadline)

	if execRes.OK {
		return m.advance(ctx, instance, StageConsensus, "dynamic validation passed")
	}
	instance.LastSandboxError = execRes.Error
	return m.advance(ctx, instance, StageHealing, "dynamic validation failed: "+execRes.Error)
}

// classifySandboxErrorSignature maps a sandbox crash message to the coarse
// error-signature context key the healing dispatcher's predictor and
// strategy table are keyed by (spec §4.4).
func classifySandboxErrorSignature(msg string) healing.ErrorSignature {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "SyntaxError"):
		return healing.SigSyntax
	case strings.Contains(lower, "timeout"):
		return healing.SigTimeout
	case strings.Contains(lower, "connection"), strings.Contains(lower, "db_conn"):
		return healing.SigDBConn
	default:
		return healing.SigGeneric
	}
}

func (m *Machine) stepHealing(ctx context.Context, instance *WorkflowInstance) (bool, error) {
	if m.healer == nil {
		_, err := m.fail(ctx, instance, aecerr.ReasonHealExhausted, "no healing dispatcher configured")
		return true, err
	}

	_, _, err := m.healer.Heal(healing.Context{
		TargetID:       instance.Mutation.TargetID,
		Domain:         healing.DomainLogic,
		ErrorSignature: classifySandboxErrorSignature(instance.LastSandboxError),
		FromRetry:      true,
	})
	if err != nil {
		_, ferr := m.fail(ctx, instance, aecerr.ReasonHealExhausted, err.Error())
		return true, ferr
	}

	if instance.RetriedOnce || m.sandboxEx == nil {
		return m.advance(ctx, instance, StageConsensus, "healed, proceeding to consensus")
	}
	instance.RetriedOnce = true

	execRes := m.sandboxEx.Execute(ctx, sandbox.Mutation{
		TargetID: instance.Mutation.TargetID,
		Payload:  instance.Mutation.Payload,
		Command:  instance.Mutation.Command,
	}, m.sandboxDeadline)
	if !execRes.OK {
		_, ferr := m.fail(ctx, instance, aecerr.ReasonSandboxCrash, "retry after healing failed: "+execRes.Error)
		return true, ferr
	}
	return m.advance(ctx, instance, StageConsensus, "retry after healing succeeded")
}

func (m *Machine) stepConsensus(ctx context.Context, instance *WorkflowInstance) (bool, error) {
	if m.engine == nil {
		_, err := m.fail(ctx, instance, aecerr.ReasonConsensusVeto, "no consensus engine configured")
		return true, err
	}

	// ProposalID and the proof's conclusion are both derived from the
	// mutation's content (target plus payload digest), not the workflow
	// id, so that two separate proposals of the identical mutation hash
	// to the same proof and get caught by the commit-time idempotency
	// check in stepCommitting.
	digest := notary.Hash(instance.Mutation.Payload)
	proposal := consensus.Proposal{
		ProposalID:  fmt.Sprintf("%s-%x", instance.Mutation.TargetID, digest[:8]),
		MutationRef: instance.Mutation.TargetID,
		FormalProof: consensus.FormalProof{
			Conclusion: fmt.Sprintf("mutation %s (payload digest %x) is safe to commit", instance.Mutation.TargetID, digest),
		},
	}
	if m.payloads != nil {
		// Populated immediately before Verify so the zero-validator local
		// simulation's counterexample search (consensus.checkCounterexample)
		// can resolve MutationRef back to real payload bytes via PayloadOf,
		// rather than always seeing an empty payload.
		m.payloads.Put(proposal.MutationRef, instance.Mutation.Payload)
	}
	result := m.engine.Verify(ctx, proposal)
	if !result.Achieved {
		_, err := m.fail(ctx, instance, aecerr.ReasonConsensusVeto, fmt.Sprintf("consensus method=%s rounds=%d", result.Method, result.Rounds))
		return true, err
	}
	instance.ProofHash = result.ProofHash

	if instance.RiskScore > m.highRiskThreshold {
		now := m.clock.NowMillis()
		instance.Stage = StageAwaitingApproval
		instance.ApprovalDeadlineMs = now + m.approvalTimeoutMs
		instance.appendHistory(StageAwaitingApproval, now, "awaiting administrator signature")
		if err := save(ctx, m.kv, instance); err != nil {
			return true, err
		}
		m.emit(Event{WorkflowID: instance.WorkflowID, Stage: StageAwaitingApproval, Reason: aecerr.ReasonNone, Outcome: "awaiting administrator signature"})
		return true, nil
	}
	return m.advance(ctx, instance, StageCommitting, "consensus approved, risk below threshold")
}

func (m *Machine) stepCommitting(ctx context.Context, instance *WorkflowInstance) (bool, error) {
	applied, err := isApplied(ctx, m.kv, instance.ProofHash)
	if err != nil {
		return true, err
	}
	if applied {
		_, ferr := m.fail(ctx, instance, aecerr.ReasonAlreadyApplied, "proof hash already committed")
		return true, ferr
	}

	if err := markApplied(ctx, m.kv, instance.ProofHash); err != nil {
		return true, err
	}

	if m.vitality != nil && m.reaper != nil {
		// A workflow that passed through HEALING before reaching here commits
		// a RECOVERING token rather than HEALTHY, per spec §4.4 step 2 and
		// §8 scenario 4.
		status := vitality.StatusHealthy
		if instance.RetriedOnce {
			status = vitality.StatusRecovering
		}
		token := m.vitality.Issue(instance.Mutation.TargetID, status)
		// A registration failure here does not unwind the commit; the
		// proof hash is already marked applied.
		_, _ = m.reaper.RegisterVitality(ctx, instance.Mutation.TargetID, token)
	}

	now := m.clock.NowMillis()
	instance.Stage = StageDone
	instance.appendHistory(StageDone, now, "committed")
	if err := save(ctx, m.kv, instance); err != nil {
		return true, err
	}
	m.emit(Event{WorkflowID: instance.WorkflowID, Stage: StageDone, Reason: aecerr.ReasonNone, Outcome: "committed"})
	return true, nil
}

func (m *Machine) advance(ctx context.Context, instance *WorkflowInstance, next Stage, outcome string) (bool, error) {
	now := m.clock.NowMillis()
	instance.Stage = next
	instance.appendHistory(next, now, outcome)
	if err := save(ctx, m.kv, instance); err != nil {
		return true, err
	}
	m.emit(Event{WorkflowID: instance.WorkflowID, Stage: next, Reason: aecerr.ReasonNone, Outcome: outcome})
	return false, nil
}

func (m *Machine) fail(ctx context.Context, instance *WorkflowInstance, reason aecerr.Reason, outcome string) (*WorkflowInstance, error) {
	now := m.clock.NowMillis()
	instance.Stage = StageFailed
	instance.FailureReason = reason
	instance.appendHistory(StageFailed, now, outcome)
	if err := save(ctx, m.kv, instance); err != nil {
		return instance, err
	}
	m.emit(Event{WorkflowID: instance.WorkflowID, Stage: StageFailed, Reason: reason, Outcome: outcome})
	return instance, nil
}

func (m *Machine) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
