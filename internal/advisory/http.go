package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/resilience"
)

const maxReplyBytes = 1 << 20

// HTTPAdvisor posts the request as JSON to an external advisory endpoint.
type HTTPAdvisor struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPAdvisor creates an advisor for endpoint. A nil client uses
// http.DefaultClient; the adapter bounds each call with its own timeout.
func NewHTTPAdvisor(endpoint, apiKey string, client *http.Client) *HTTPAdvisor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdvisor{endpoint: endpoint, apiKey: apiKey, client: client}
}

// Advise implements Advisor.
func (h *HTTPAdvisor) Advise(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "advisory: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "advisory: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "advisory: post request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "advisory: read reply")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("advisory: unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	return DecodeResponse(body)
}
