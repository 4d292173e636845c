// Package scorer combines measurement check results into a compliance score
// and verdict.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Score thresholds. A perfect score passes; anything from ConditionalMinScore
// up to 99 is conditional; below that fails.
const (
	PassScore           = 100
	ConditionalMinScore = 70
)

// Weights are the points each check costs when exceeded. They sum to 100.
type Weights struct {
	Linearity     int `json:"linearity" yaml:"linearity"`
	Repeatability int `json:"repeatability" yaml:"repeatability"`
	Accuracy      int `json:"accuracy" yaml:"accuracy"`
	Environmental int `json:"environmental" yaml:"environmental"`
}

// DefaultWeights returns the canonical penalty split.
func DefaultWeights() Weights {
	return Weights{
		Linearity:     35,
		Repeatability: 25,
		Accuracy:      30,
		Environmental: 10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() int {
	return w.Linearity + w.Repeatability + w.Accuracy + w.Environmental
}

// ValidateWeights checks that weights are non-negative and sum to 100.
func ValidateWeights(w Weights) error {
	var errs []string

	named := []struct {
		name string
		v    int
	}{
		{"linearity", w.Linearity},
		{"repeatability", w.Repeatability},
		{"accuracy", w.Accuracy},
		{"environmental", w.Environmental},
	}
	for _, n := range named {
		if n.v < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", n.name))
		}
	}
	if sum := w.Sum(); sum != 100 {
		errs = append(errs, fmt.Sprintf("weights must sum to 100, got %d", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}
