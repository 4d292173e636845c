package calibration

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/calibration-cli/internal/advisory"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/resilience"
	"github.com/sells-group/calibration-cli/internal/store"
)

func scenarioEnv() model.EnvironmentalConditions {
	return model.EnvironmentalConditions{TemperatureC: 22.5, HumidityPct: 45.0}
}

func scenarioMeasurements() model.Measurements {
	return model.Measurements{
		Linearity: model.LinearitySet{
			Weights:  []float64{0, 1, 5, 10, 20, 50, 100},
			Readings: []float64{0.001, 1.002, 5.001, 10.003, 20.002, 50.001, 100.002},
		},
		Repeatability: model.RepeatabilitySet{
			Samples: []float64{10.000, 10.001, 10.000, 10.001, 10.000, 10.001, 10.000, 10.001, 10.000, 10.001},
		},
		Accuracy: model.AccuracyPair{Reference: 10.000, Measured: 10.002},
	}
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// flakyStore fails the first n saves with a transient error.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
	calls int
	err   error
}

func (f *flakyStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.Store.SaveSession(ctx, snap)
}

// slowStore delays every save.
type slowStore struct {
	store.Store
	delay time.Duration
}

func (s *slowStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Store.SaveSession(ctx, snap)
}

func drain(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func runScenario(t *testing.T, svc *Service, equipmentID string) (string, *model.ComplianceResult) {
	t.Helper()
	id, err := svc.Open(equipmentID, model.EquipmentAnalyticalBalance)
	require.NoError(t, err)

	state, err := svc.ConfirmReadiness(id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateEnvironmental, state)

	state, err = svc.RecordEnvironmental(id, scenarioEnv())
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateMeasuring, state)

	state, err = svc.RecordMeasurements(id, scenarioMeasurements())
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateValidating, state)

	res, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	return id, res
}

func TestService_ScenarioPersistsAndFreesEquipment(t *testing.T) {
	st := newSQLiteStore(t)
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: st, Retry: fastRetry()})

	id, res := runScenario(t, svc, "BAL-001")
	assert.Equal(t, model.VerdictConditional, res.Verdict)
	assert.Equal(t, 90, res.Score)
	drain(t, svc)

	saved, err := st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCompleted, saved.State)
	require.NotNil(t, saved.Result)
	assert.Equal(t, res.Score, saved.Result.Score)

	// Closed in the registry, served from the store.
	assert.Empty(t, svc.Active())
	snap, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCompleted, snap.State)

	again, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res.Verdict, again.Verdict)

	_, err = svc.Abort(context.Background(), id, "late")
	assert.True(t, model.IsCode(err, model.CodeSessionClosed))

	_, err = svc.Open("BAL-001", model.EquipmentAnalyticalBalance)
	assert.NoError(t, err)
}

func TestService_AbortPersists(t *testing.T) {
	st := newSQLiteStore(t)
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: st, Retry: fastRetry()})

	id, err := svc.Open("CEN-1", model.EquipmentCentrifuge)
	require.NoError(t, err)
	state, err := svc.Abort(context.Background(), id, "rotor imbalance")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateAborted, state)
	drain(t, svc)

	saved, err := st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "rotor imbalance", saved.AbortReason)

	_, err = svc.RunValidation(context.Background(), id)
	assert.True(t, model.IsCode(err, model.CodeSessionClosed))
}

func TestService_SlowStoreDoesNotDelayValidation(t *testing.T) {
	st := newSQLiteStore(t)
	hang := advisory.AdvisorFunc(func(ctx context.Context, _ advisory.Request) (*advisory.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := New(Options{
		Criteria: criteria.DefaultTable(),
		Store:    &slowStore{Store: st, delay: time.Second},
		Advisory: advisory.NewAdapter(hang, advisory.Config{Timeout: 50 * time.Millisecond}),
		Retry:    fastRetry(),
	})

	start := time.Now()
	id, res := runScenario(t, svc, "BAL-001")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.True(t, res.Degraded)
	assert.Equal(t, model.SourceDeterministic, res.Source)
	assert.Equal(t, model.VerdictConditional, res.Verdict)

	// While the write is pending the live session answers.
	again, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	drain(t, svc)
	saved, err := st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCompleted, saved.State)

	stored, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res.Verdict, stored.Verdict)
	assert.Equal(t, res.Score, stored.Score)
	assert.True(t, stored.Degraded)
}

func TestService_DrainHonoursContext(t *testing.T) {
	st := newSQLiteStore(t)
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: &slowStore{Store: st, delay: time.Second}, Retry: fastRetry()})

	id, err := svc.Open("CEN-1", model.EquipmentCentrifuge)
	require.NoError(t, err)
	_, err = svc.Abort(context.Background(), id, "rotor imbalance")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(ctx), context.DeadlineExceeded)

	drain(t, svc)
	_, err = st.GetSession(context.Background(), id)
	assert.NoError(t, err)
}

func TestService_WithoutStoreKeepsSnapshot(t *testing.T) {
	svc := New(Options{Criteria: criteria.DefaultTable()})

	id, res := runScenario(t, svc, "BAL-001")
	snap, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res.Verdict, snap.Result.Verdict)

	again, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res.Score, again.Score)

	// Terminal entries do not block the equipment.
	_, err = svc.Open("BAL-001", model.EquipmentAnalyticalBalance)
	assert.NoError(t, err)
}

func TestService_PersistRetriesTransientErrors(t *testing.T) {
	st := &flakyStore{Store: newSQLiteStore(t), fails: 2, err: resilience.NewTransientError(errors.New("database is locked"), 0)}
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: st, Retry: fastRetry()})

	id, err := svc.Open("PH-1", model.EquipmentPHMeter)
	require.NoError(t, err)
	_, err = svc.Abort(context.Background(), id, "electrode dry")
	require.NoError(t, err)
	drain(t, svc)

	assert.Equal(t, 3, st.calls)
	_, err = st.Store.GetSession(context.Background(), id)
	assert.NoError(t, err)
}

func TestService_PersistFailureKeepsSessionReadable(t *testing.T) {
	st := &flakyStore{Store: newSQLiteStore(t), fails: 10, err: errors.New("disk full")}
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: st, Retry: fastRetry()})

	id, err := svc.Open("PH-1", model.EquipmentPHMeter)
	require.NoError(t, err)
	_, err = svc.Abort(context.Background(), id, "electrode dry")
	require.NoError(t, err)
	drain(t, svc)

	assert.Equal(t, 1, st.calls, "non-transient errors are not retried")
	snap, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateAborted, snap.State)
}

func TestService_UnknownSession(t *testing.T) {
	svc := New(Options{Criteria: criteria.DefaultTable(), Store: newSQLiteStore(t)})
	ctx := context.Background()

	_, err := svc.ConfirmReadiness("nope")
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
	_, err = svc.RecordEnvironmental("nope", scenarioEnv())
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
	_, err = svc.RecordMeasurements("nope", scenarioMeasurements())
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
	_, err = svc.RunValidation(ctx, "nope")
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
	_, err = svc.Abort(ctx, "nope", "")
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
	_, err = svc.Get(ctx, "nope")
	assert.True(t, model.IsCode(err, model.CodeSessionNotFound))
}

func TestService_EquipmentBusy(t *testing.T) {
	svc := New(Options{Criteria: criteria.DefaultTable()})
	_, err := svc.Open("BAL-1", model.EquipmentAnalyticalBalance)
	require.NoError(t, err)
	_, err = svc.Open("BAL-1", model.EquipmentAnalyticalBalance)
	assert.True(t, model.IsCode(err, model.CodeEquipmentBusy))
	assert.Len(t, svc.Active(), 1)
}
