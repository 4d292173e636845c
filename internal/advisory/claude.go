package advisory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/resilience"
	"github.com/sells-group/calibration-cli/pkg/anthropic"
)

// DefaultClaudeModel is used when no model is configured.
const DefaultClaudeModel = "claude-haiku-4-5-20251001"

const claudeSystemPrompt = `You are a metrology reviewer for laboratory equipment calibration.
You receive a calibration run that has already been scored deterministically.
Review the measurements, environment and deviations and give your own assessment.
Verdicts: PASS (all checks within tolerance), CONDITIONAL (usable with corrective action), FAIL (not fit for use).
Reply with ONLY a JSON object:
{"verdict": "PASS|CONDITIONAL|FAIL", "score": 0-100, "confidence": 0.0-1.0, "narrative": "one or two sentences"}`

// ClaudeAdvisor asks an Anthropic model for an advisory assessment.
type ClaudeAdvisor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeAdvisor creates an advisor backed by client.
func NewClaudeAdvisor(client anthropic.Client, model string, maxTokens int64) *ClaudeAdvisor {
	if model == "" {
		model = DefaultClaudeModel
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &ClaudeAdvisor{client: client, model: model, maxTokens: maxTokens}
}

// Advise implements Advisor.
func (c *ClaudeAdvisor) Advise(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "advisory: marshal request")
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.SystemBlock{{Text: claudeSystemPrompt, Cached: true}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Calibration run:\n%s", payload),
		}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return nil, err
	}
	resp.Usage.LogCost(c.model, req.SessionID)

	return DecodeResponse([]byte(resp.Text()))
}
