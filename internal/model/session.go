package model

import (
	"strings"
	"time"
)

// SessionState represents the current step of a calibration session.
type SessionState string

const (
	SessionStatePrecheck      SessionState = "PRECHECK"
	SessionStateEnvironmental SessionState = "ENVIRONMENTAL"
	SessionStateMeasuring     SessionState = "MEASURING"
	SessionStateValidating    SessionState = "VALIDATING"
	SessionStateCompleted     SessionState = "COMPLETED"
	SessionStateAborted       SessionState = "ABORTED"
)

// IsTerminal reports whether no further transitions are accepted.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateAborted
}

// EquipmentClass selects the acceptance criteria for a session.
type EquipmentClass string

const (
	EquipmentAnalyticalBalance EquipmentClass = "ANALYTICAL_BALANCE"
	EquipmentCentrifuge        EquipmentClass = "CENTRIFUGE"
	EquipmentPHMeter           EquipmentClass = "PH_METER"
	EquipmentOther             EquipmentClass = "OTHER"
)

// EquipmentClasses lists every supported class in display order.
var EquipmentClasses = []EquipmentClass{
	EquipmentAnalyticalBalance,
	EquipmentCentrifuge,
	EquipmentPHMeter,
	EquipmentOther,
}

// ParseEquipmentClass parses a class name case-insensitively.
func ParseEquipmentClass(s string) (EquipmentClass, error) {
	c := EquipmentClass(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EquipmentClasses {
		if c == known {
			return c, nil
		}
	}
	return "", InvalidInput("", "equipment_class", "unknown equipment class %q", s)
}

// Vibration is an informational vibration level recorded with the environment.
type Vibration string

const (
	VibrationNone   Vibration = "NONE"
	VibrationLow    Vibration = "LOW"
	VibrationMedium Vibration = "MEDIUM"
	VibrationHigh   Vibration = "HIGH"
)

// Valid reports whether v is empty (not recorded) or a known level.
func (v Vibration) Valid() bool {
	switch v {
	case "", VibrationNone, VibrationLow, VibrationMedium, VibrationHigh:
		return true
	default:
		return false
	}
}

// EnvironmentalConditions are the ambient readings taken before measuring.
type EnvironmentalConditions struct {
	TemperatureC float64   `json:"temperature" yaml:"temperature"`
	HumidityPct  float64   `json:"humidity" yaml:"humidity"`
	PressureHPa  *float64  `json:"pressure,omitempty" yaml:"pressure,omitempty"`
	Vibration    Vibration `json:"vibration,omitempty" yaml:"vibration,omitempty"`
}

// SessionSnapshot is a point-in-time copy of a calibration session. It is the
// record handed to persistence and returned over the API.
type SessionSnapshot struct {
	ID             string                   `json:"id"`
	EquipmentID    string                   `json:"equipment_id"`
	EquipmentClass EquipmentClass           `json:"equipment_class"`
	State          SessionState             `json:"state"`
	Criteria       AcceptanceCriteria       `json:"criteria"`
	Environmental  *EnvironmentalConditions `json:"environmental,omitempty"`
	Measurements   *Measurements            `json:"measurements,omitempty"`
	Result         *ComplianceResult        `json:"result,omitempty"`
	AbortReason    string                   `json:"abort_reason,omitempty"`
	OpenedAt       time.Time                `json:"opened_at"`
	ClosedAt       *time.Time               `json:"closed_at,omitempty"`
}
