package ai

import (
	"fmt"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

// mergeVerdicts folds per-chunk verdicts into one. Any rejection wins and
// carries the highest-confidence rejection's reason; otherwise any flag
// wins the same way; an all-approved run approves with the mean confidence.
func mergeVerdicts(verdicts []Verdict) Verdict {
	if len(verdicts) == 0 {
		return Verdict{
			Decision:   moderation.DecisionApproved,
			Confidence: 0,
			Reason:     "no chunks analyzed",
		}
	}
	if len(verdicts) == 1 {
		return verdicts[0]
	}

	if best, ok := bestOf(verdicts, moderation.DecisionRejected); ok {
		best.Reason = fmt.Sprintf("analyzed %d chunks: %s", len(verdicts), best.Reason)
		return best
	}
	if best, ok := bestOf(verdicts, moderation.DecisionFlagged); ok {
		best.Reason = fmt.Sprintf("analyzed %d chunks: %s", len(verdicts), best.Reason)
		return best
	}

	var sum float64
	fallback := false
	provider := verdicts[0].Provider
	for _, v := range verdicts {
		sum += v.Confidence
		fallback = fallback || v.Fallback
	}
	return Verdict{
		Decision:   moderation.DecisionApproved,
		Confidence: sum / float64(len(verdicts)),
		Reason:     fmt.Sprintf("all %d chunks passed", len(verdicts)),
		Provider:   provider,
		Fallback:   fallback,
	}
}

// bestOf returns the highest-confidence verdict with the given decision.
func bestOf(verdicts []Verdict, decision moderation.Decision) (Verdict, bool) {
	var best Verdict
	found := false
	for _, v := range verdicts {
		if v.Decision != decision {
			continue
		}
		if !found || v.Confidence > best.Confidence {
			best = v
			found = true
		}
	}
	return best, found
}
