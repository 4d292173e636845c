// Package measure implements the pure numeric checks applied to calibration
// measurements: linearity, repeatability, accuracy and environmental range.
package measure

import (
	"math"

	"github.com/sells-group/calibration-cli/internal/model"
)

// Set names used in error details.
const (
	SetLinearity     = "linearity"
	SetRepeatability = "repeatability"
	SetAccuracy      = "accuracy"
	SetEnvironmental = "environmental"
)

// LinearityResult is the outcome of a linearity check.
type LinearityResult struct {
	Deviations      []float64 `json:"deviations"`
	MaxAbsDeviation float64   `json:"max_abs_deviation"`
	RSquared        float64   `json:"r_squared"`
	Slope           float64   `json:"slope"`
	Intercept       float64   `json:"intercept"`
	Exceeded        bool      `json:"exceeded"`
}

// RepeatabilityResult is the outcome of a repeatability check.
type RepeatabilityResult struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Exceeded bool    `json:"exceeded"`
}

// AccuracyResult is the outcome of an accuracy check.
type AccuracyResult struct {
	Deviation float64 `json:"deviation"`
	Exceeded  bool    `json:"exceeded"`
}

// EnvironmentalResult is the outcome of an environmental range check.
// Pressure and vibration are carried for reporting only.
type EnvironmentalResult struct {
	TemperatureC        float64         `json:"temperature"`
	HumidityPct         float64         `json:"humidity"`
	PressureHPa         *float64        `json:"pressure,omitempty"`
	Vibration           model.Vibration `json:"vibration,omitempty"`
	TemperatureExceeded bool            `json:"temperature_exceeded"`
	HumidityExceeded    bool            `json:"humidity_exceeded"`
	Exceeded            bool            `json:"exceeded"`
}

// Results bundles the three measurement checks of a session.
type Results struct {
	Linearity     LinearityResult     `json:"linearity"`
	Repeatability RepeatabilityResult `json:"repeatability"`
	Accuracy      AccuracyResult      `json:"accuracy"`
}

// ValidateLinearity compares readings against reference weights and fits a
// least-squares line of readings on weights.
func ValidateLinearity(weights, readings []float64, c model.AcceptanceCriteria) (LinearityResult, error) {
	if len(weights) != len(readings) {
		return LinearityResult{}, model.InvalidInput(SetLinearity, "readings",
			"%d readings do not match %d weights", len(readings), len(weights))
	}
	if len(weights) < 2 {
		return LinearityResult{}, model.InvalidInput(SetLinearity, "weights",
			"at least 2 points required, got %d", len(weights))
	}
	if err := requireFinite(SetLinearity, "weights", weights); err != nil {
		return LinearityResult{}, err
	}
	if err := requireFinite(SetLinearity, "readings", readings); err != nil {
		return LinearityResult{}, err
	}

	n := float64(len(weights))
	var sumX, sumY float64
	for i := range weights {
		sumX += weights[i]
		sumY += readings[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, syy, sxy, maxAbs float64
	deviations := make([]float64, len(weights))
	for i := range weights {
		dx := weights[i] - meanX
		dy := readings[i] - meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy

		deviations[i] = readings[i] - weights[i]
		if a := math.Abs(deviations[i]); a > maxAbs {
			maxAbs = a
		}
	}
	if sxx == 0 {
		return LinearityResult{}, model.InvalidInput(SetLinearity, "weights",
			"weights must contain at least two distinct values")
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX

	// A flat response explains none of the variance in the weights.
	var r2 float64
	if syy > 0 {
		r2 = math.Min((sxy*sxy)/(sxx*syy), 1)
	}

	derived := []struct {
		name string
		v    float64
	}{
		{"max_abs_deviation", maxAbs},
		{"slope", slope},
		{"intercept", intercept},
		{"r_squared", r2},
	}
	for _, d := range derived {
		if !finite(d.v) {
			return LinearityResult{}, model.MeasurementError(SetLinearity, d.name, "computed value is not finite")
		}
	}

	return LinearityResult{
		Deviations:      deviations,
		MaxAbsDeviation: maxAbs,
		RSquared:        r2,
		Slope:           slope,
		Intercept:       intercept,
		Exceeded:        maxAbs > c.MaxLinearityDeviation || r2 < c.MinLinearityRSquared,
	}, nil
}

// ValidateRepeatability computes the population standard deviation (divisor
// N) of repeated readings.
func ValidateRepeatability(samples []float64, c model.AcceptanceCriteria) (RepeatabilityResult, error) {
	if len(samples) < 2 {
		return RepeatabilityResult{}, model.InvalidInput(SetRepeatability, "samples",
			"at least 2 samples required, got %d", len(samples))
	}
	if err := requireFinite(SetRepeatability, "samples", samples); err != nil {
		return RepeatabilityResult{}, err
	}

	n := float64(len(samples))
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / n

	var ss float64
	for _, s := range samples {
		d := s - mean
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	if !finite(std) || !finite(mean) {
		return RepeatabilityResult{}, model.MeasurementError(SetRepeatability, "std_dev", "computed value is not finite")
	}

	return RepeatabilityResult{
		N:        len(samples),
		Mean:     mean,
		StdDev:   std,
		Exceeded: std > c.MaxRepeatabilityStdDev,
	}, nil
}

// ValidateAccuracy compares a single measured value with its reference.
func ValidateAccuracy(reference, measured float64, c model.AcceptanceCriteria) (AccuracyResult, error) {
	if !finite(reference) {
		return AccuracyResult{}, model.InvalidInput(SetAccuracy, "reference", "value is not finite")
	}
	if !finite(measured) {
		return AccuracyResult{}, model.InvalidInput(SetAccuracy, "measured", "value is not finite")
	}

	dev := measured - reference
	if !finite(dev) {
		return AccuracyResult{}, model.MeasurementError(SetAccuracy, "deviation", "computed value is not finite")
	}
	return AccuracyResult{
		Deviation: dev,
		Exceeded:  math.Abs(dev) > c.MaxAccuracyDeviation,
	}, nil
}

// ValidateEnvironmental checks temperature and humidity against the criteria
// ranges. Pressure and vibration have no tolerance and never exceed.
func ValidateEnvironmental(env model.EnvironmentalConditions, c model.AcceptanceCriteria) (EnvironmentalResult, error) {
	if !finite(env.TemperatureC) {
		return EnvironmentalResult{}, model.InvalidInput(SetEnvironmental, "temperature", "value is not finite")
	}
	if !finite(env.HumidityPct) {
		return EnvironmentalResult{}, model.InvalidInput(SetEnvironmental, "humidity", "value is not finite")
	}

	res := EnvironmentalResult{
		TemperatureC:        env.TemperatureC,
		HumidityPct:         env.HumidityPct,
		Vibration:           env.Vibration,
		TemperatureExceeded: !c.TemperatureRange.Contains(env.TemperatureC),
		HumidityExceeded:    !c.HumidityRange.Contains(env.HumidityPct),
	}
	if env.PressureHPa != nil {
		p := *env.PressureHPa
		res.PressureHPa = &p
	}
	res.Exceeded = res.TemperatureExceeded || res.HumidityExceeded
	return res, nil
}

// ValidateAll runs the three measurement checks, stopping at the first
// failing set.
func ValidateAll(m model.Measurements, c model.AcceptanceCriteria) (Results, error) {
	lin, err := ValidateLinearity(m.Linearity.Weights, m.Linearity.Readings, c)
	if err != nil {
		return Results{}, err
	}
	rep, err := ValidateRepeatability(m.Repeatability.Samples, c)
	if err != nil {
		return Results{}, err
	}
	acc, err := ValidateAccuracy(m.Accuracy.Reference, m.Accuracy.Measured, c)
	if err != nil {
		return Results{}, err
	}
	return Results{Linearity: lin, Repeatability: rep, Accuracy: acc}, nil
}

func requireFinite(set, field string, values []float64) error {
	for i, v := range values {
		if !finite(v) {
			return model.InvalidInput(set, field, "value at index %d is not finite", i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
