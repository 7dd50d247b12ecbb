package consensus

import "context"

// LocalValidator adapts the zero-validator local simulation (checks.go) into
// a registrable Validator, so N of them can be registered against an Engine
// and actually drive the broadcast/aggregate/dialectic-refinement loop
// (spec §4.5 phases 1-4) instead of only ever running through
// zeroValidatorFallback. Each instance is independent and stateless beyond
// its shared PayloadOf/History references, standing in for a remote twin
// service until one is wired.
type LocalValidator struct {
	// ID labels this validator's responses (spec's response_id), so its
	// ReasoningTrace can be attributed in ConsensusResult.History.
	ID string

	// PayloadOf resolves a mutation reference to its payload bytes, shared
	// with the Engine's own zero-validator fallback.
	PayloadOf func(mutationRef string) []byte

	// History is consulted for historical-consistency checks; shared with
	// the Engine so both paths see the same window of recent proof hashes.
	History *History
}

// Validate runs the four local checks against proposal and returns their
// synthesized verdict, never erring: an adversarial validator that cannot
// reach a verdict degrades to REJECT via localSimulate's own logic rather
// than surfacing a transport-style error.
func (lv LocalValidator) Validate(ctx context.Context, proposal Proposal) (TwinResponse, error) {
	var payload []byte
	if lv.PayloadOf != nil {
		payload = lv.PayloadOf(proposal.MutationRef)
	}
	var recent [][32]byte
	if lv.History != nil {
		recent = lv.History.Recent()
	}
	hash := ProofHash(proposal)
	return localSimulate(lv.ID, proposal, payload, hash, recent), nil
}
