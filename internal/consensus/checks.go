package consensus

import (
	"fmt"
	"regexp"
	"strings"
)

// counterexamplePatterns flags payloads a local simulation should treat as
// carrying a structural counterexample: unbounded loops, destructive
// filesystem/database verbs, process termination, dynamic code eval.
var counterexamplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfor\s*\(\s*;;\s*\)`),
	regexp.MustCompile(`(?i)\bwhile\s*\(\s*true\s*\)`),
	regexp.MustCompile(`(?i)\b(DROP\s+TABLE|TRUNCATE|DELETE\s+FROM\s+\w+\s*;?\s*$|os\.RemoveAll)`),
	regexp.MustCompile(`(?i)\b(os\.Exit|syscall\.Kill|SIGKILL)`),
	regexp.MustCompile(`(?i)\b(eval\s*\(|new Function\s*\()`),
}

// checkAxiomIndependence is local check (a): no axiom of the proof may
// simultaneously appear in a derivation and in the conclusion, a coarse
// circularity guard.
func checkAxiomIndependence(proof FormalProof) bool {
	for _, axiom := range proof.Axioms {
		inDerivation := false
		for _, d := range proof.Derivations {
			if strings.Contains(d, axiom) {
				inDerivation = true
				break
			}
		}
		if inDerivation && strings.Contains(proof.Conclusion, axiom) {
			return false
		}
	}
	return true
}

// checkCounterexample is local check (b): a regex scan of the mutation
// payload for dangerous patterns. Returns the matched counterexample text,
// or "" if the payload is clean.
func checkCounterexample(payload []byte) string {
	text := string(payload)
	for _, p := range counterexamplePatterns {
		if m := p.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// checkHistoricalConsistency is local check (c): proofHash must not match
// an entry already in the recent history window.
func checkHistoricalConsistency(proofHash [32]byte, recent [][32]byte) bool {
	for _, h := range recent {
		if h == proofHash {
			return false
		}
	}
	return true
}

// checkResourceBound is local check (d): payload size below the cap.
func checkResourceBound(payload []byte, capBytes int) bool {
	return len(payload) <= capBytes
}

// localSimulate runs all four checks and synthesizes a TwinResponse.
// ≥75% pass ⇒ ACCEPT, 50–75% ⇒ CHALLENGE, otherwise REJECT.
func localSimulate(responseID string, proposal Proposal, payload []byte, proofHash [32]byte, recentHashes [][32]byte) TwinResponse {
	var trace []string
	passed := 0
	const total = 4

	if checkAxiomIndependence(proposal.FormalProof) {
		passed++
		trace = append(trace, "axiom independence: pass")
	} else {
		trace = append(trace, "axiom independence: fail (circularity detected)")
	}

	counterexample := checkCounterexample(payload)
	if counterexample == "" {
		passed++
		trace = append(trace, "counterexample search: pass")
	} else {
		trace = append(trace, fmt.Sprintf("counterexample search: fail (%q)", counterexample))
	}

	if checkHistoricalConsistency(proofHash, recentHashes) {
		passed++
		trace = append(trace, "historical consistency: pass")
	} else {
		trace = append(trace, "historical consistency: fail (duplicate proof hash)")
	}

	if checkResourceBound(payload, MaxPayloadBytes) {
		passed++
		trace = append(trace, "resource bound: pass")
	} else {
		trace = append(trace, "resource bound: fail (payload too large)")
	}

	ratio := float64(passed) / float64(total)

	resp := TwinResponse{
		ResponseID:     responseID,
		ProposalID:     proposal.ProposalID,
		Confidence:     ratio,
		Counterexample: counterexample,
		ReasoningTrace: trace,
	}

	switch {
	case counterexample != "":
		// A concrete counterexample is dispositive: the other three checks
		// (axiom independence, historical consistency, resource bound) say
		// nothing about whether the payload is safe to commit, so a hit here
		// must reject outright rather than being outvoted by them.
		resp.Verdict = VerdictReject
	case ratio >= 0.75:
		resp.Verdict = VerdictAccept
	case ratio >= 0.5:
		resp.Verdict = VerdictChallenge
	default:
		resp.Verdict = VerdictReject
	}
	return resp
}
