package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/config"
	"github.com/sells-group/calibration-cli/internal/model"
)

func failingSessions(n int) []model.SessionSnapshot {
	out := make([]model.SessionSnapshot, n)
	for i := range out {
		out[i] = completed(string(rune('a'+i)), model.VerdictFail, 20, time.Hour, nil)
	}
	return out
}

func TestChecker_Check(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:          ts.URL,
		FailRateThreshold:   0.5,
		LookbackWindowHours: 24,
	}
	checker := NewChecker(newTestCollector(&mockLister{sessions: failingSessions(6)}), NewAlerter(cfg), cfg)

	rep, err := checker.Check(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rep.Alerts, 1)
	assert.Zero(t, rep.Sent)
	assert.Zero(t, hits.Load())

	rep, err = checker.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 6, rep.Snapshot.Fail)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&mockLister{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(&mockLister{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
