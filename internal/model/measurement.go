package model

// LinearitySet pairs reference weights with the instrument's readings.
type LinearitySet struct {
	Weights  []float64 `json:"weights" yaml:"weights"`
	Readings []float64 `json:"readings" yaml:"readings"`
}

// RepeatabilitySet holds repeated readings of the same quantity.
type RepeatabilitySet struct {
	Samples []float64 `json:"samples" yaml:"samples"`
}

// AccuracyPair is a single reading against a known reference value.
type AccuracyPair struct {
	Reference float64 `json:"reference" yaml:"reference"`
	Measured  float64 `json:"measured" yaml:"measured"`
}

// Measurements are the raw metrology sets captured during a session.
type Measurements struct {
	Linearity     LinearitySet     `json:"linearity" yaml:"linearity"`
	Repeatability RepeatabilitySet `json:"repeatability" yaml:"repeatability"`
	Accuracy      AccuracyPair     `json:"accuracy" yaml:"accuracy"`
}

// Clone returns a deep copy so stored measurements cannot be aliased.
func (m Measurements) Clone() Measurements {
	return Measurements{
		Linearity: LinearitySet{
			Weights:  append([]float64(nil), m.Linearity.Weights...),
			Readings: append([]float64(nil), m.Linearity.Readings...),
		},
		Repeatability: RepeatabilitySet{
			Samples: append([]float64(nil), m.Repeatability.Samples...),
		},
		Accuracy: m.Accuracy,
	}
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// AcceptanceCriteria are the tolerances for one equipment class. Limits are
// expressed in the same unit as the measurements.
type AcceptanceCriteria struct {
	Class                  EquipmentClass `json:"class" yaml:"class"`
	Version                string         `json:"version" yaml:"version"`
	Unit                   string         `json:"unit,omitempty" yaml:"unit,omitempty"`
	MaxLinearityDeviation  float64        `json:"max_linearity_deviation" yaml:"max_linearity_deviation"`
	MinLinearityRSquared   float64        `json:"min_linearity_r_squared" yaml:"min_linearity_r_squared"`
	MaxRepeatabilityStdDev float64        `json:"max_repeatability_std_dev" yaml:"max_repeatability_std_dev"`
	MaxAccuracyDeviation   float64        `json:"max_accuracy_deviation" yaml:"max_accuracy_deviation"`
	TemperatureRange       Range          `json:"temperature_range" yaml:"temperature_range"`
	HumidityRange          Range          `json:"humidity_range" yaml:"humidity_range"`
}
