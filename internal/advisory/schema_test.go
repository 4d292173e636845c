package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/model"
)

func TestDecodeResponse_Valid(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"verdict":"CONDITIONAL","score":85,"confidence":0.7,"narrative":"Drift at full scale."}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Verdict)
	assert.Equal(t, model.VerdictConditional, *resp.Verdict)
	require.NotNil(t, resp.Score)
	assert.Equal(t, 85, *resp.Score)
	assert.Equal(t, 0.7, resp.Confidence)
	assert.Equal(t, "Drift at full scale.", resp.Narrative)
}

func TestDecodeResponse_FencedReply(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"verdict\": \"PASS\", \"confidence\": 0.9}\n```"
	resp, err := DecodeResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPass, *resp.Verdict)
	assert.Nil(t, resp.Score)
}

func TestDecodeResponse_NullVerdict(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"verdict":null,"score":null,"confidence":0.2,"narrative":"No opinion."}`))
	require.NoError(t, err)
	assert.Nil(t, resp.Verdict)
	assert.Nil(t, resp.Score)
}

func TestDecodeResponse_IntegralFloatScore(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"verdict":"PASS","score":95.0,"confidence":0.8,"narrative":"Within tolerance."}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Score)
	assert.Equal(t, 95, *resp.Score)
	assert.Equal(t, model.VerdictPass, *resp.Verdict)

	resp, err = DecodeResponse([]byte(`{"score":1e2,"confidence":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, 100, *resp.Score)
}

func TestDecodeResponse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"no object", "I cannot assess this run.", "no JSON object"},
		{"malformed", `{"verdict": "PASS",}`, "parse reply"},
		{"unknown verdict", `{"verdict":"MAYBE","confidence":0.5}`, "schema validation"},
		{"score not integer", `{"score":"high","confidence":0.5}`, "schema validation"},
		{"fractional score", `{"score":87.5,"confidence":0.5}`, "schema validation"},
		{"missing confidence", `{"narrative":"x"}`, "schema validation"},
		{"missing confidence with verdict", `{"verdict":"PASS","score":95}`, "schema validation"},
		{"confidence not number", `{"verdict":"PASS","confidence":"high"}`, "schema validation"},
		{"nothing useful", `{"confidence":0.5}`, "schema validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
