package scorer

import (
	"fmt"

	"github.com/sells-group/calibration-cli/internal/measure"
	"github.com/sells-group/calibration-cli/internal/model"
)

// Input holds the four check results to score.
type Input struct {
	Linearity     measure.LinearityResult
	Repeatability measure.RepeatabilityResult
	Accuracy      measure.AccuracyResult
	Environmental measure.EnvironmentalResult
}

// Scorecard is the deterministic scoring outcome.
type Scorecard struct {
	Verdict         model.Verdict     `json:"verdict"`
	Score           int               `json:"score"`
	Deviations      []model.Deviation `json:"deviations"`
	Exceeded        []string          `json:"exceeded"`
	Recommendations []string          `json:"recommendations"`
}

// Scorer applies binary weighted penalties. It holds no mutable state and is
// safe for concurrent use.
type Scorer struct {
	weights Weights
}

// New returns a Scorer using DefaultWeights.
func New() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// NewWithWeights returns a Scorer using w after validating it.
func NewWithWeights(w Weights) (*Scorer, error) {
	if err := ValidateWeights(w); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the scorer's penalty weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// VerdictForScore maps a 0..100 score to its verdict.
func VerdictForScore(score int) model.Verdict {
	switch {
	case score >= PassScore:
		return model.VerdictPass
	case score >= ConditionalMinScore:
		return model.VerdictConditional
	default:
		return model.VerdictFail
	}
}

// ScoreBand returns the inclusive score range that maps to v.
func ScoreBand(v model.Verdict) (lo, hi int) {
	switch v {
	case model.VerdictPass:
		return PassScore, PassScore
	case model.VerdictConditional:
		return ConditionalMinScore, PassScore - 1
	default:
		return 0, ConditionalMinScore - 1
	}
}

// Score computes the scorecard. Deviations are always emitted in the order
// linearity, repeatability, accuracy, environmental.
func (s *Scorer) Score(in Input, c model.AcceptanceCriteria) Scorecard {
	checks := []struct {
		name     string
		exceeded bool
		weight   int
	}{
		{model.CheckLinearity, in.Linearity.Exceeded, s.weights.Linearity},
		{model.CheckRepeatability, in.Repeatability.Exceeded, s.weights.Repeatability},
		{model.CheckAccuracy, in.Accuracy.Exceeded, s.weights.Accuracy},
		{model.CheckEnvironmental, in.Environmental.Exceeded, s.weights.Environmental},
	}

	score := 100
	var exceeded []string
	for _, ch := range checks {
		if ch.exceeded {
			score -= ch.weight
			exceeded = append(exceeded, ch.name)
		}
	}
	if score < 0 {
		score = 0
	}

	return Scorecard{
		Verdict:         VerdictForScore(score),
		Score:           score,
		Deviations:      deviations(in, c),
		Exceeded:        exceeded,
		Recommendations: recommendations(in, c),
	}
}

// Deterministic builds the rule-only compliance result for a scorecard.
func Deterministic(card Scorecard, c model.AcceptanceCriteria) *model.ComplianceResult {
	r := &model.ComplianceResult{
		Verdict:         card.Verdict,
		Score:           card.Score,
		Deviations:      card.Deviations,
		Recommendations: card.Recommendations,
		Source:          model.SourceDeterministic,
		Confidence:      1.0,
		CriteriaVersion: c.Version,
	}
	return r.Clone()
}

func deviations(in Input, c model.AcceptanceCriteria) []model.Deviation {
	minR2 := c.MinLinearityRSquared
	accLo := -c.MaxAccuracyDeviation
	tempLo := c.TemperatureRange.Min
	humLo := c.HumidityRange.Min

	return []model.Deviation{
		{
			Check:    model.CheckLinearity,
			Metric:   "max_deviation",
			Observed: in.Linearity.MaxAbsDeviation,
			Limit:    c.MaxLinearityDeviation,
			Exceeded: in.Linearity.MaxAbsDeviation > c.MaxLinearityDeviation,
		},
		{
			Check:      model.CheckLinearity,
			Metric:     "r_squared",
			Observed:   in.Linearity.RSquared,
			Limit:      1,
			LowerLimit: &minR2,
			Exceeded:   in.Linearity.RSquared < c.MinLinearityRSquared,
		},
		{
			Check:    model.CheckRepeatability,
			Metric:   "std_dev",
			Observed: in.Repeatability.StdDev,
			Limit:    c.MaxRepeatabilityStdDev,
			Exceeded: in.Repeatability.Exceeded,
		},
		{
			Check:      model.CheckAccuracy,
			Metric:     "deviation",
			Observed:   in.Accuracy.Deviation,
			Limit:      c.MaxAccuracyDeviation,
			LowerLimit: &accLo,
			Exceeded:   in.Accuracy.Exceeded,
		},
		{
			Check:      model.CheckEnvironmental,
			Metric:     "temperature",
			Observed:   in.Environmental.TemperatureC,
			Limit:      c.TemperatureRange.Max,
			LowerLimit: &tempLo,
			Exceeded:   in.Environmental.TemperatureExceeded,
		},
		{
			Check:      model.CheckEnvironmental,
			Metric:     "humidity",
			Observed:   in.Environmental.HumidityPct,
			Limit:      c.HumidityRange.Max,
			LowerLimit: &humLo,
			Exceeded:   in.Environmental.HumidityExceeded,
		},
	}
}

func recommendations(in Input, c model.AcceptanceCriteria) []string {
	unit := c.Unit
	if unit != "" {
		unit = " " + unit
	}

	var recs []string
	if in.Linearity.Exceeded {
		recs = append(recs, fmt.Sprintf(
			"Linearity out of tolerance (max deviation %.4g%s, limit %.4g%s; R² %.6f, minimum %.6f): adjust span calibration and repeat the linearity series.",
			in.Linearity.MaxAbsDeviation, unit, c.MaxLinearityDeviation, unit, in.Linearity.RSquared, c.MinLinearityRSquared))
	}
	if in.Repeatability.Exceeded {
		recs = append(recs, fmt.Sprintf(
			"Repeatability out of tolerance (std dev %.4g%s, limit %.4g%s): check levelling, draft shielding and vibration isolation, then repeat the series.",
			in.Repeatability.StdDev, unit, c.MaxRepeatabilityStdDev, unit))
	}
	if in.Accuracy.Exceeded {
		recs = append(recs, fmt.Sprintf(
			"Accuracy out of tolerance (deviation %+.4g%s, limit ±%.4g%s): verify the reference standard and re-adjust the instrument.",
			in.Accuracy.Deviation, unit, c.MaxAccuracyDeviation, unit))
	}
	if in.Environmental.Exceeded {
		recs = append(recs, fmt.Sprintf(
			"Environmental conditions out of range (%.1f °C allowed %.1f–%.1f; %.1f %%RH allowed %.1f–%.1f): stabilise the room before recalibrating.",
			in.Environmental.TemperatureC, c.TemperatureRange.Min, c.TemperatureRange.Max,
			in.Environmental.HumidityPct, c.HumidityRange.Min, c.HumidityRange.Max))
	}
	if in.Environmental.Vibration == model.VibrationHigh || in.Environmental.Vibration == model.VibrationMedium {
		recs = append(recs, fmt.Sprintf(
			"Vibration level %s recorded: consider an isolation table for future calibrations.", in.Environmental.Vibration))
	}
	if len(recs) == 0 {
		recs = append(recs, "All checks within tolerance; no corrective action required.")
	}
	return recs
}
