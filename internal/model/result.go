package model

// Verdict is the overall compliance outcome.
type Verdict string

const (
	VerdictPass        Verdict = "PASS"
	VerdictConditional Verdict = "CONDITIONAL"
	VerdictFail        Verdict = "FAIL"
)

// Leniency orders verdicts from strictest (0) to most lenient (2).
// Unknown verdicts return -1.
func (v Verdict) Leniency() int {
	switch v {
	case VerdictFail:
		return 0
	case VerdictConditional:
		return 1
	case VerdictPass:
		return 2
	default:
		return -1
	}
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v.Leniency() >= 0
}

// ResultSource records whether the advisory path contributed to a result.
type ResultSource string

const (
	SourceDeterministic ResultSource = "DETERMINISTIC"
	SourceAIAssisted    ResultSource = "AI_ASSISTED"
)

// Check names, in the fixed order deviations are reported.
const (
	CheckLinearity     = "linearity"
	CheckRepeatability = "repeatability"
	CheckAccuracy      = "accuracy"
	CheckEnvironmental = "environmental"
)

// Deviation is one observed metric compared against its limit. LowerLimit is
// set only for range checks, in which case Limit is the upper bound.
type Deviation struct {
	Check      string   `json:"check"`
	Metric     string   `json:"metric"`
	Observed   float64  `json:"observed"`
	Limit      float64  `json:"limit"`
	LowerLimit *float64 `json:"lower_limit,omitempty"`
	Exceeded   bool     `json:"exceeded"`
}

// ComplianceResult is the final, immutable outcome of a validated session.
type ComplianceResult struct {
	Verdict            Verdict      `json:"verdict"`
	Score              int          `json:"score"`
	Deviations         []Deviation  `json:"deviations"`
	Recommendations    []string     `json:"recommendations"`
	Source             ResultSource `json:"source"`
	Confidence         float64      `json:"confidence"`
	Degraded           bool         `json:"degraded"`
	Narrative          string       `json:"narrative,omitempty"`
	AdvisoryOverridden bool         `json:"advisory_overridden,omitempty"`
	CriteriaVersion    string       `json:"criteria_version,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *ComplianceResult) Clone() *ComplianceResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Deviations != nil {
		out.Deviations = make([]Deviation, len(r.Deviations))
		for i, d := range r.Deviations {
			out.Deviations[i] = d
			if d.LowerLimit != nil {
				lo := *d.LowerLimit
				out.Deviations[i].LowerLimit = &lo
			}
		}
	}
	if r.Recommendations != nil {
		out.Recommendations = append([]string(nil), r.Recommendations...)
	}
	return &out
}

// ExceededChecks counts the distinct checks with at least one exceeded metric.
func (r *ComplianceResult) ExceededChecks() int {
	seen := make(map[string]bool)
	for _, d := range r.Deviations {
		if d.Exceeded {
			seen[d.Check] = true
		}
	}
	return len(seen)
}
