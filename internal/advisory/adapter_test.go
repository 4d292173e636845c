package advisory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/resilience"
)

func verdictPtr(v model.Verdict) *model.Verdict { return &v }
func intPtr(v int) *int                         { return &v }

func deterministic(v model.Verdict, score int) *model.ComplianceResult {
	return &model.ComplianceResult{
		Verdict: v,
		Score:   score,
		Deviations: []model.Deviation{
			{Check: model.CheckLinearity, Metric: "max_deviation", Observed: 0.003, Limit: 0.1},
			{Check: model.CheckEnvironmental, Metric: "temperature", Observed: 22.5, Limit: 22, Exceeded: score < 100},
		},
		Recommendations: []string{"Stabilise the room temperature before the next run."},
		Source:          model.SourceDeterministic,
		Confidence:      1.0,
		CriteriaVersion: "test-v1",
	}
}

func testRequest() Request {
	return NewRequest("sess-1", model.EquipmentAnalyticalBalance, model.Measurements{
		Linearity:     model.LinearitySet{Weights: []float64{0, 50, 100}, Readings: []float64{0, 50.001, 100.002}},
		Repeatability: model.RepeatabilitySet{Samples: []float64{50, 50.001, 49.999}},
		Accuracy:      model.AccuracyPair{Reference: 100, Measured: 100.002},
	}, model.EnvironmentalConditions{TemperatureC: 22.5, HumidityPct: 45}, deterministic(model.VerdictConditional, 90))
}

func fixed(resp *Response, err error) Advisor {
	return AdvisorFunc(func(context.Context, Request) (*Response, error) {
		return resp, err
	})
}

func TestAdapter_DisabledPassesThrough(t *testing.T) {
	det := deterministic(model.VerdictConditional, 90)

	for _, a := range []*Adapter{nil, NewAdapter(nil, Config{})} {
		out := a.Assess(context.Background(), testRequest(), det)
		require.NoError(t, out.Err)
		assert.Equal(t, det, out.Result)
		assert.False(t, out.Result.Degraded)
		assert.NotSame(t, det, out.Result)
	}
}

func TestAdapter_AcceptsOneLevelUpgrade(t *testing.T) {
	a := NewAdapter(fixed(&Response{
		Verdict:    verdictPtr(model.VerdictPass),
		Score:      intPtr(100),
		Confidence: 0.82,
		Narrative:  "Temperature excursion is marginal.",
	}, nil), Config{Timeout: time.Second})

	out := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictConditional, 90))
	require.NoError(t, out.Err)
	assert.False(t, out.Overridden)
	assert.Equal(t, model.VerdictPass, out.Result.Verdict)
	assert.Equal(t, 100, out.Result.Score)
	assert.Equal(t, model.SourceAIAssisted, out.Result.Source)
	assert.InDelta(t, 0.82, out.Result.Confidence, 1e-9)
	assert.Equal(t, "Temperature excursion is marginal.", out.Result.Narrative)
	assert.False(t, out.Result.Degraded)
}

func TestAdapter_TimeoutDegrades(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// Ignores its context on purpose.
	slow := AdvisorFunc(func(context.Context, Request) (*Response, error) {
		<-release
		return &Response{Verdict: verdictPtr(model.VerdictPass)}, nil
	})
	a := NewAdapter(slow, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	det := deterministic(model.VerdictConditional, 90)
	out := a.Assess(context.Background(), testRequest(), det)

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, out.Err, ErrAdvisoryTimeout)
	assert.True(t, out.Result.Degraded)
	assert.Equal(t, model.VerdictConditional, out.Result.Verdict)
	assert.Equal(t, 90, out.Result.Score)
	assert.Equal(t, model.SourceDeterministic, out.Result.Source)
}

func TestAdapter_ServiceErrorDegrades(t *testing.T) {
	cause := errors.New("connection refused")
	a := NewAdapter(fixed(nil, cause), Config{Timeout: time.Second})

	out := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictFail, 40))
	assert.ErrorIs(t, out.Err, ErrAdvisoryService)
	assert.ErrorIs(t, out.Err, cause)
	assert.True(t, out.Result.Degraded)
	assert.Equal(t, model.VerdictFail, out.Result.Verdict)
}

func TestAdapter_InvalidResponsesDegrade(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
	}{
		{"nil response", nil},
		{"unknown verdict", &Response{Verdict: verdictPtr("MAYBE")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(fixed(tt.resp, nil), Config{Timeout: time.Second})
			out := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictConditional, 90))
			assert.ErrorIs(t, out.Err, ErrAdvisoryService)
			assert.True(t, out.Result.Degraded)
		})
	}
}

func TestAdapter_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	a := NewAdapter(AdvisorFunc(func(ctx context.Context, _ Request) (*Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), Config{Timeout: 10 * time.Second})

	go func() {
		<-started
		cancel()
	}()

	out := a.Assess(ctx, testRequest(), deterministic(model.VerdictConditional, 90))
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.True(t, out.Result.Degraded)
}

func TestAdapter_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	a := NewAdapter(AdvisorFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return nil, errors.New("503")
	}), Config{
		Timeout: time.Second,
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})

	for i := 0; i < 4; i++ {
		out := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictConditional, 90))
		assert.True(t, out.Result.Degraded)
		assert.ErrorIs(t, out.Err, ErrAdvisoryService)
	}
	assert.Equal(t, int32(2), calls.Load(), "open circuit skips the advisor")
}

func TestAdapter_RateLimitDegradesWithoutWaiting(t *testing.T) {
	var calls atomic.Int32
	a := NewAdapter(AdvisorFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return &Response{Confidence: 0.5, Narrative: "ok"}, nil
	}), Config{Timeout: time.Second, RatePerSecond: 0.001, Burst: 1})

	first := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictConditional, 90))
	require.NoError(t, first.Err)

	start := time.Now()
	second := a.Assess(context.Background(), testRequest(), deterministic(model.VerdictConditional, 90))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.ErrorIs(t, second.Err, ErrRateLimited)
	assert.True(t, second.Result.Degraded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAdapter_Accessors(t *testing.T) {
	var nilAdapter *Adapter
	assert.False(t, nilAdapter.Enabled())
	assert.Zero(t, nilAdapter.Timeout())

	a := NewAdapter(fixed(nil, nil), Config{})
	assert.True(t, a.Enabled())
	assert.Equal(t, DefaultTimeout, a.Timeout())
}

func TestNewRequest_CopiesInputs(t *testing.T) {
	det := deterministic(model.VerdictConditional, 90)
	m := model.Measurements{Linearity: model.LinearitySet{Weights: []float64{1, 2}, Readings: []float64{1, 2}}}
	req := NewRequest("s", model.EquipmentCentrifuge, m, model.EnvironmentalConditions{}, det)

	m.Linearity.Weights[0] = 99
	det.Deviations[0].Observed = 99

	assert.Equal(t, 1.0, req.Measurements.Linearity.Weights[0])
	assert.Equal(t, 0.003, req.Deviations[0].Observed)
	assert.Equal(t, 90, req.DeterministicScore)
	assert.Equal(t, model.VerdictConditional, req.DeterministicVerdict)
}

func TestFailureError_Message(t *testing.T) {
	err := &FailureError{Kind: ErrAdvisoryTimeout, Err: context.DeadlineExceeded}
	assert.Contains(t, err.Error(), "advisory: timed out")
	assert.Contains(t, err.Error(), "deadline exceeded")
	assert.Equal(t, "advisory: rate limited", (&FailureError{Kind: ErrRateLimited}).Error())
}
