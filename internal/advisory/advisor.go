// Package advisory consults an optional external assessor about a scored
// calibration run and reconciles its opinion with the deterministic result.
// The deterministic result is always the fallback; the advisory path can only
// enrich it.
package advisory

import (
	"context"

	"github.com/sells-group/calibration-cli/internal/model"
)

// Advisor is an external assessment service.
type Advisor interface {
	Advise(ctx context.Context, req Request) (*Response, error)
}

// AdvisorFunc adapts a function to the Advisor interface.
type AdvisorFunc func(ctx context.Context, req Request) (*Response, error)

// Advise calls f.
func (f AdvisorFunc) Advise(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Request is the structured payload sent to an advisor.
type Request struct {
	SessionID            string                        `json:"session_id"`
	EquipmentClass       model.EquipmentClass          `json:"equipment_class"`
	Measurements         model.Measurements            `json:"measurements"`
	Environmental        model.EnvironmentalConditions `json:"environmental"`
	DeterministicScore   int                           `json:"deterministic_score"`
	DeterministicVerdict model.Verdict                 `json:"deterministic_verdict"`
	Deviations           []model.Deviation             `json:"deviations"`
}

// NewRequest builds the advisory payload for a deterministically scored run.
func NewRequest(sessionID string, class model.EquipmentClass, m model.Measurements, env model.EnvironmentalConditions, det *model.ComplianceResult) Request {
	req := Request{
		SessionID:      sessionID,
		EquipmentClass: class,
		Measurements:   m.Clone(),
		Environmental:  env,
	}
	if det != nil {
		req.DeterministicScore = det.Score
		req.DeterministicVerdict = det.Verdict
		req.Deviations = det.Clone().Deviations
	}
	return req
}

// Response is an advisor's opinion. Verdict and Score are optional; when
// both are absent the advisor contributes only a narrative.
type Response struct {
	Verdict    *model.Verdict `json:"verdict,omitempty"`
	Score      *int           `json:"score,omitempty"`
	Confidence float64        `json:"confidence"`
	Narrative  string         `json:"narrative,omitempty"`
}
