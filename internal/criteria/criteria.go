// Package criteria holds the versioned acceptance criteria tables used to
// judge calibration measurements per equipment class.
package criteria

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/model"
)

// DefaultVersion identifies the built-in criteria table.
const DefaultVersion = "builtin-2025.1"

// Table is one version of the acceptance criteria for every equipment class.
type Table struct {
	Version string                                            `yaml:"version" json:"version"`
	Classes map[model.EquipmentClass]model.AcceptanceCriteria `yaml:"classes" json:"classes"`
}

// Source resolves the acceptance criteria for an equipment class.
type Source interface {
	Lookup(class model.EquipmentClass) (model.AcceptanceCriteria, error)
}

// DefaultTable returns the built-in criteria. Balance limits follow CAP/CLIA
// style tolerances with readings recorded in milligrams.
func DefaultTable() Table {
	t := Table{
		Version: DefaultVersion,
		Classes: map[model.EquipmentClass]model.AcceptanceCriteria{
			model.EquipmentAnalyticalBalance: {
				Unit:                   "mg",
				MaxLinearityDeviation:  0.1,
				MinLinearityRSquared:   0.9999,
				MaxRepeatabilityStdDev: 0.1,
				MaxAccuracyDeviation:   0.1,
				TemperatureRange:       model.Range{Min: 18, Max: 22},
				HumidityRange:          model.Range{Min: 30, Max: 70},
			},
			model.EquipmentCentrifuge: {
				Unit:                   "rpm",
				MaxLinearityDeviation:  50,
				MinLinearityRSquared:   0.999,
				MaxRepeatabilityStdDev: 20,
				MaxAccuracyDeviation:   50,
				TemperatureRange:       model.Range{Min: 15, Max: 30},
				HumidityRange:          model.Range{Min: 20, Max: 80},
			},
			model.EquipmentPHMeter: {
				Unit:                   "pH",
				MaxLinearityDeviation:  0.05,
				MinLinearityRSquared:   0.999,
				MaxRepeatabilityStdDev: 0.02,
				MaxAccuracyDeviation:   0.05,
				TemperatureRange:       model.Range{Min: 20, Max: 25},
				HumidityRange:          model.Range{Min: 20, Max: 80},
			},
			model.EquipmentOther: {
				MaxLinearityDeviation:  0.5,
				MinLinearityRSquared:   0.995,
				MaxRepeatabilityStdDev: 0.5,
				MaxAccuracyDeviation:   0.5,
				TemperatureRange:       model.Range{Min: 15, Max: 30},
				HumidityRange:          model.Range{Min: 20, Max: 80},
			},
		},
	}
	t.stamp()
	return t
}

// Lookup returns the criteria for class, stamped with the table version.
func (t Table) Lookup(class model.EquipmentClass) (model.AcceptanceCriteria, error) {
	c, ok := t.Classes[class]
	if !ok {
		return model.AcceptanceCriteria{}, model.InvalidInput("", "equipment_class",
			"no acceptance criteria for class %s in table %s", class, t.Version)
	}
	c.Class = class
	c.Version = t.Version
	return c, nil
}

// stamp copies the table version and class key into every entry.
func (t *Table) stamp() {
	for class, c := range t.Classes {
		c.Class = class
		c.Version = t.Version
		t.Classes[class] = c
	}
}

// ValidateCriteria checks that a single criteria entry is usable.
func ValidateCriteria(c model.AcceptanceCriteria) error {
	var errs []string

	limits := []struct {
		name string
		v    float64
	}{
		{"max_linearity_deviation", c.MaxLinearityDeviation},
		{"max_repeatability_std_dev", c.MaxRepeatabilityStdDev},
		{"max_accuracy_deviation", c.MaxAccuracyDeviation},
	}
	for _, l := range limits {
		if l.v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", l.name))
		}
	}

	if c.MinLinearityRSquared <= 0 || c.MinLinearityRSquared > 1 {
		errs = append(errs, "min_linearity_r_squared must be in (0, 1]")
	}
	if c.TemperatureRange.Min >= c.TemperatureRange.Max {
		errs = append(errs, "temperature_range min must be < max")
	}
	if c.HumidityRange.Min >= c.HumidityRange.Max {
		errs = append(errs, "humidity_range min must be < max")
	}
	if c.HumidityRange.Min < 0 || c.HumidityRange.Max > 100 {
		errs = append(errs, "humidity_range must lie within 0..100")
	}

	if len(errs) > 0 {
		return eris.Errorf("criteria: %s: %s", c.Class, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks every entry of the table.
func (t Table) Validate() error {
	if t.Version == "" {
		return eris.New("criteria: table version is required")
	}
	for _, class := range model.EquipmentClasses {
		c, ok := t.Classes[class]
		if !ok {
			return eris.Errorf("criteria: table %s missing class %s", t.Version, class)
		}
		c.Class = class
		if err := ValidateCriteria(c); err != nil {
			return err
		}
	}
	return nil
}
