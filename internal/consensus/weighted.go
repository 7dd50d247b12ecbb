package consensus

// WeightedVote is one validator's vote paired with a trust weight, for the
// optional weighted-aggregation strategy. Grounded on
// internal/escrow/jury_client.go's CalculateWeightedConsensus, which
// computes consensus as approved-weight / total-weight rather than a flat
// headcount.
type WeightedVote struct {
	ValidatorID string
	Verdict     Verdict
	Weight      float64
}

// WeightedAggregator is an alternative to the flat accepts/len(verdicts)
// ratio in aggregate(): off by default, it lets a caller configure trust
// weights per validator (e.g. historical reliability) so a consistently
// wrong validator contributes less to the agreement ratio. Not wired into
// Engine.Verify by default — the default strategy is the unweighted ratio
// spec §4.5 describes — but available for a caller who wants to route
// consensus through trust-weighted voting instead.
type WeightedAggregator struct {
	MinAgree float64
}

// Aggregate returns whether votes pass MinAgree and the resulting ratio.
func (w WeightedAggregator) Aggregate(votes []WeightedVote) (passed bool, ratio float64) {
	var total, approved float64
	for _, v := range votes {
		total += v.Weight
		if v.Verdict == VerdictAccept {
			approved += v.Weight
		}
	}
	if total == 0 {
		return false, 0
	}
	ratio = approved / total
	minAgree := w.MinAgree
	if minAgree <= 0 {
		minAgree = DefaultMinAgree
	}
	return ratio >= minAgree, ratio
}
