// Package consensus implements C5, the Consensus Engine: broadcasting a
// proposal to adversarial validators, falling back to a local simulation
// when a validator is unreachable or absent entirely, and running a bounded
// dialectic refinement loop before returning a verdict. Grounded on
// internal/escrow/jury_client.go (weighted voting, deterministic
// trust-score fallback when the remote Jury service can't be reached) and
// internal/escrow/tri_factor_gate.go (multi-dimensional validation, the
// template this package's four local checks generalize), plus
// internal/ledger/merkle.go for the hash-chained history log.
package consensus

import "time"

// Verdict is a single validator's (or the local simulation's) opinion on a
// proposal.
type Verdict string

const (
	VerdictAccept    Verdict = "ACCEPT"
	VerdictReject    Verdict = "REJECT"
	VerdictChallenge Verdict = "CHALLENGE"
)

// Method names the path a ConsensusResult was reached by.
type Method string

const (
	MethodImmediate Method = "IMMEDIATE"
	MethodDialectic Method = "DIALECTIC"
	MethodArbiter   Method = "ARBITER"
	MethodVeto      Method = "VETO"
)

// FormalProof is the logical scaffolding accompanying a Proposal.
type FormalProof struct {
	Axioms      []string
	Derivations []string
	Conclusion  string
}

// Proposal is C5's input: a mutation reference accompanied by a formal
// proof of its safety. Refinements during the dialectic phase create new
// IDs keyed as "<parent>-refined-<round>".
type Proposal struct {
	ProposalID  string
	MutationRef string
	FormalProof FormalProof
}

// TwinResponse is one validator's (or the local simulation's) verdict on a
// Proposal.
type TwinResponse struct {
	ResponseID     string
	ProposalID     string
	Verdict        Verdict
	Confidence     float64
	Counterexample string // empty if none
	ReasoningTrace []string
}

// ConsensusResult is C5's terminal output.
type ConsensusResult struct {
	Achieved  bool
	Method    Method
	Rounds    int
	ProofHash [32]byte
	History   []TwinResponse
}

// DefaultValidatorTimeout is the per-validator broadcast deadline (spec
// §4.5 phase 1).
const DefaultValidatorTimeout = 30 * time.Second

// DefaultMaxRounds bounds the dialectic refinement loop (spec §4.5 phase
// 4).
const DefaultMaxRounds = 5

// DefaultMinAgree is the agreement ratio a non-unanimous result needs to
// be accepted as ARBITER-approved (spec §4.5 phase 3).
const DefaultMinAgree = 0.7

// MaxHistoryWindow is how many recent proof hashes the historical
// consistency check considers (spec §4.5 phase 2c).
const MaxHistoryWindow = 100

// MaxPayloadBytes is the resource-bound cap the local simulation enforces
// (spec §4.5 phase 2d).
const MaxPayloadBytes = 1 << 20
