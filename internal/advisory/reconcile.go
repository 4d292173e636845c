package advisory

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/scorer"
)

// MaxLeniencyUpgrade is how many verdict levels an advisor may relax the
// deterministic verdict by.
const MaxLeniencyUpgrade = 1

// Reconcile merges an advisory response into a deterministic result and
// reports whether the advisor's proposal was overridden.
//
// The advisor may raise leniency by at most one level (FAIL→CONDITIONAL,
// CONDITIONAL→PASS). A larger upgrade keeps the deterministic verdict and
// score and records the narrative as a supplementary recommendation.
// Downgrades are always accepted. An accepted score is clamped into the band
// of the final verdict so verdict and score never disagree.
func Reconcile(det *model.ComplianceResult, resp *Response) (*model.ComplianceResult, bool) {
	out := det.Clone()
	if resp == nil {
		return out, false
	}

	out.Source = model.SourceAIAssisted
	out.Degraded = false
	out.Confidence = clamp(resp.Confidence, 0, 1)
	out.Narrative = strings.TrimSpace(resp.Narrative)

	proposed := det.Verdict
	switch {
	case resp.Verdict != nil:
		proposed = *resp.Verdict
	case resp.Score != nil:
		proposed = scorer.VerdictForScore(clampScore(*resp.Score, 0, scorer.PassScore))
	}

	if proposed.Leniency()-det.Verdict.Leniency() > MaxLeniencyUpgrade {
		zap.L().Warn("advisory: upgrade exceeds leniency cap, keeping deterministic verdict",
			zap.String("deterministic_verdict", string(det.Verdict)),
			zap.String("advisory_verdict", string(proposed)),
		)
		out.AdvisoryOverridden = true
		if out.Narrative != "" {
			out.Recommendations = append(out.Recommendations, "Advisory note (not applied): "+out.Narrative)
		}
		return out, true
	}

	score := det.Score
	if resp.Score != nil {
		score = *resp.Score
	}
	lo, hi := scorer.ScoreBand(proposed)
	out.Verdict = proposed
	out.Score = clampScore(score, lo, hi)
	return out, false
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampScore(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
