package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{DegradedRateThreshold: 0.25, FailRateThreshold: 0.5}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Pass: 8, Conditional: 1, Fail: 1,
		FailRate:      0.1,
		Degraded:      1,
		DegradedRate:  0.1,
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_DegradedRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Pass: 10, Degraded: 4, DegradedRate: 0.4, LookbackHours: 24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDegradedRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 10, alerts[0].Details["scored"])
}

func TestAlerter_Evaluate_FailRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Pass: 2, Fail: 6, FailRate: 0.75, LookbackHours: 12,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "75.0%")
	assert.Contains(t, alerts[0].Message, "12h")
}

func TestAlerter_Evaluate_Both(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{Fail: 5, FailRate: 1, Degraded: 5, DegradedRate: 1}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertDegradedRate, alerts[0].Type)
	assert.Equal(t, AlertFailRate, alerts[1].Type)
}

func TestAlerter_Evaluate_BelowMinSample(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{Fail: MinSample - 1, FailRate: 1, Degraded: MinSample - 1, DegradedRate: 1}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ZeroThresholdDisables(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	snap := &MetricsSnapshot{Fail: 10, FailRate: 1, Degraded: 10, DegradedRate: 1}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Success(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{
		{Type: AlertDegradedRate, Severity: "medium", Message: "test alert 1"},
		{Type: AlertFailRate, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
