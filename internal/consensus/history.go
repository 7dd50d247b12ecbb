package consensus

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// CanonicalEncode produces a deterministic byte encoding of a proof for
// hashing, grounded on internal/ledger/merkle.go's entry format (a
// fixed-field string joined with delimiters, not a general-purpose
// serializer, so the encoding never depends on map iteration order).
func CanonicalEncode(proposal Proposal) []byte {
	s := fmt.Sprintf("proposal:%s|mutation:%s|axioms:%v|derivations:%v|conclusion:%s",
		proposal.ProposalID, proposal.MutationRef,
		proposal.FormalProof.Axioms, proposal.FormalProof.Derivations, proposal.FormalProof.Conclusion)
	return []byte(s)
}

// ProofHash returns SHA-256(CanonicalEncode(proposal)).
func ProofHash(proposal Proposal) [32]byte {
	return sha256.Sum256(CanonicalEncode(proposal))
}

// History is an append-only log of terminal consensus results, grounded
// on internal/ledger/merkle.go's Ledger: each entry's hash
// anchors an audit trail, though the AEC needs only a bounded recency
// window for the historical-consistency check rather than a full Merkle
// tree, so the tree-rebuild machinery is not carried over.
type History struct {
	mu     sync.Mutex
	hashes [][32]byte
}

// NewHistory returns an empty history log.
func NewHistory() *History {
	return &History{}
}

// Recent returns up to MaxHistoryWindow most recently appended hashes.
func (h *History) Recent() [][32]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.hashes) <= MaxHistoryWindow {
		out := make([][32]byte, len(h.hashes))
		copy(out, h.hashes)
		return out
	}
	out := make([][32]byte, MaxHistoryWindow)
	copy(out, h.hashes[len(h.hashes)-MaxHistoryWindow:])
	return out
}

// Append records a proof hash as a terminal result.
func (h *History) Append(hash [32]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes = append(h.hashes, hash)
}
