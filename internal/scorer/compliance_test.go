package scorer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/measure"
	"github.com/sells-group/calibration-cli/internal/model"
)

func testCriteria() model.AcceptanceCriteria {
	return model.AcceptanceCriteria{
		Class:                  model.EquipmentAnalyticalBalance,
		Version:                "test-v1",
		Unit:                   "mg",
		MaxLinearityDeviation:  0.1,
		MinLinearityRSquared:   0.9999,
		MaxRepeatabilityStdDev: 0.1,
		MaxAccuracyDeviation:   0.1,
		TemperatureRange:       model.Range{Min: 18, Max: 22},
		HumidityRange:          model.Range{Min: 30, Max: 70},
	}
}

// input builds a scorer input where the named checks are exceeded.
func input(lin, rep, acc, env bool) Input {
	in := Input{
		Linearity:     measure.LinearityResult{MaxAbsDeviation: 0.003, RSquared: 0.99999},
		Repeatability: measure.RepeatabilityResult{N: 10, StdDev: 0.0007},
		Accuracy:      measure.AccuracyResult{Deviation: 0.002},
		Environmental: measure.EnvironmentalResult{TemperatureC: 20, HumidityPct: 45},
	}
	if lin {
		in.Linearity.MaxAbsDeviation = 0.3
		in.Linearity.Exceeded = true
	}
	if rep {
		in.Repeatability.StdDev = 0.2
		in.Repeatability.Exceeded = true
	}
	if acc {
		in.Accuracy.Deviation = -0.25
		in.Accuracy.Exceeded = true
	}
	if env {
		in.Environmental.TemperatureC = 22.5
		in.Environmental.TemperatureExceeded = true
		in.Environmental.Exceeded = true
	}
	return in
}

func TestScore_PenaltiesAndVerdicts(t *testing.T) {
	tests := []struct {
		name               string
		lin, rep, acc, env bool
		wantScore          int
		wantVerdict        model.Verdict
		wantExceededChecks []string
	}{
		{"all pass", false, false, false, false, 100, model.VerdictPass, nil},
		{"environmental only", false, false, false, true, 90, model.VerdictConditional, []string{"environmental"}},
		{"repeatability only", false, true, false, false, 75, model.VerdictConditional, []string{"repeatability"}},
		{"accuracy only hits the boundary", false, false, true, false, 70, model.VerdictConditional, []string{"accuracy"}},
		{"linearity only", true, false, false, false, 65, model.VerdictFail, []string{"linearity"}},
		{"linearity and repeatability", true, true, false, false, 40, model.VerdictFail, []string{"linearity", "repeatability"}},
		{"everything", true, true, true, true, 0, model.VerdictFail, []string{"linearity", "repeatability", "accuracy", "environmental"}},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := s.Score(input(tt.lin, tt.rep, tt.acc, tt.env), testCriteria())
			assert.Equal(t, tt.wantScore, card.Score)
			assert.Equal(t, tt.wantVerdict, card.Verdict)
			assert.Equal(t, tt.wantExceededChecks, card.Exceeded)
		})
	}
}

func TestScore_DeviationOrderIsFixed(t *testing.T) {
	s := New()
	want := []string{
		"linearity/max_deviation",
		"linearity/r_squared",
		"repeatability/std_dev",
		"accuracy/deviation",
		"environmental/temperature",
		"environmental/humidity",
	}

	for mask := 0; mask < 16; mask++ {
		card := s.Score(input(mask&1 != 0, mask&2 != 0, mask&4 != 0, mask&8 != 0), testCriteria())
		var got []string
		for _, d := range card.Deviations {
			got = append(got, d.Check+"/"+d.Metric)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("mask %04b: deviation order mismatch (-want +got):\n%s", mask, diff)
		}
	}
}

func TestScore_Monotonic(t *testing.T) {
	s := New()
	scoreOf := func(mask int) int {
		return s.Score(input(mask&1 != 0, mask&2 != 0, mask&4 != 0, mask&8 != 0), testCriteria()).Score
	}

	for mask := 0; mask < 16; mask++ {
		for bit := 0; bit < 4; bit++ {
			if mask&(1<<bit) != 0 {
				continue
			}
			assert.LessOrEqual(t, scoreOf(mask|1<<bit), scoreOf(mask),
				"adding exceeded check %d to mask %04b increased the score", bit, mask)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := New()
	in := input(false, true, false, true)
	assert.Equal(t, s.Score(in, testCriteria()), s.Score(in, testCriteria()))
}

func TestScore_EnvironmentalDeviationCarriesRange(t *testing.T) {
	card := New().Score(input(false, false, false, true), testCriteria())

	var env *model.Deviation
	for i := range card.Deviations {
		if card.Deviations[i].Metric == "temperature" {
			env = &card.Deviations[i]
		}
	}
	require.NotNil(t, env)
	assert.True(t, env.Exceeded)
	assert.Equal(t, 22.5, env.Observed)
	assert.Equal(t, 22.0, env.Limit)
	require.NotNil(t, env.LowerLimit)
	assert.Equal(t, 18.0, *env.LowerLimit)
}

func TestScore_Recommendations(t *testing.T) {
	s := New()

	card := s.Score(input(false, false, false, false), testCriteria())
	assert.Equal(t, []string{"All checks within tolerance; no corrective action required."}, card.Recommendations)

	card = s.Score(input(true, false, true, false), testCriteria())
	require.Len(t, card.Recommendations, 2)
	assert.Contains(t, card.Recommendations[0], "Linearity out of tolerance")
	assert.Contains(t, card.Recommendations[1], "Accuracy out of tolerance")

	in := input(false, false, false, false)
	in.Environmental.Vibration = model.VibrationHigh
	card = s.Score(in, testCriteria())
	assert.Equal(t, 100, card.Score, "vibration never costs points")
	require.Len(t, card.Recommendations, 1)
	assert.Contains(t, card.Recommendations[0], "Vibration level HIGH")
}

func TestDeterministicResult(t *testing.T) {
	c := testCriteria()
	card := New().Score(input(false, false, false, true), c)
	r := Deterministic(card, c)

	assert.Equal(t, model.VerdictConditional, r.Verdict)
	assert.Equal(t, 90, r.Score)
	assert.Equal(t, model.SourceDeterministic, r.Source)
	assert.Equal(t, 1.0, r.Confidence)
	assert.False(t, r.Degraded)
	assert.Equal(t, "test-v1", r.CriteriaVersion)

	// The result does not alias the scorecard.
	r.Deviations[0].Exceeded = true
	assert.False(t, card.Deviations[0].Exceeded)
}

func TestVerdictForScoreBoundaries(t *testing.T) {
	assert.Equal(t, model.VerdictPass, VerdictForScore(100))
	assert.Equal(t, model.VerdictConditional, VerdictForScore(99))
	assert.Equal(t, model.VerdictConditional, VerdictForScore(70))
	assert.Equal(t, model.VerdictFail, VerdictForScore(69))
	assert.Equal(t, model.VerdictFail, VerdictForScore(0))

	for _, v := range []model.Verdict{model.VerdictPass, model.VerdictConditional, model.VerdictFail} {
		lo, hi := ScoreBand(v)
		assert.Equal(t, v, VerdictForScore(lo))
		assert.Equal(t, v, VerdictForScore(hi))
	}
}

func TestValidateWeights(t *testing.T) {
	require.NoError(t, ValidateWeights(DefaultWeights()))
	assert.Equal(t, 100, DefaultWeights().Sum())

	err := ValidateWeights(Weights{Linearity: -5, Repeatability: 50, Accuracy: 50, Environmental: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linearity weight must be >= 0")

	err = ValidateWeights(Weights{Linearity: 40, Repeatability: 25, Accuracy: 30, Environmental: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 100, got 105")

	_, err = NewWithWeights(Weights{Linearity: 1})
	assert.Error(t, err)

	s, err := NewWithWeights(Weights{Linearity: 25, Repeatability: 25, Accuracy: 25, Environmental: 25})
	require.NoError(t, err)
	assert.Equal(t, 75, s.Score(input(true, false, false, false), testCriteria()).Score)
}
