// Package session implements the calibration session state machine:
//
//	PRECHECK → ENVIRONMENTAL → MEASURING → VALIDATING → COMPLETED
//
// with ABORTED reachable from every non-terminal state. A Session is safe for
// concurrent use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/advisory"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/measure"
	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/scorer"
)

// Options configures a Session. Zero values select defaults.
type Options struct {
	// ID overrides the generated session id.
	ID string

	// Now is the session clock. Default: time.Now.
	Now func() time.Time

	// Logger defaults to zap.L().
	Logger *zap.Logger

	// Scorer defaults to scorer.New().
	Scorer *scorer.Scorer

	// Advisory is consulted during validation. Nil disables it.
	Advisory *advisory.Adapter

	// OnTerminal is called once, outside the session lock, with the final
	// snapshot when the session completes or aborts. It runs before
	// RunValidation waiters are released and must not block.
	OnTerminal func(model.SessionSnapshot)
}

// Session is a single calibration run for one piece of equipment.
type Session struct {
	id          string
	equipmentID string
	criteria    model.AcceptanceCriteria

	now        func() time.Time
	log        *zap.Logger
	scorer     *scorer.Scorer
	advisory   *advisory.Adapter
	onTerminal func(model.SessionSnapshot)

	mu           sync.Mutex
	state        model.SessionState
	env          *model.EnvironmentalConditions
	envResult    measure.EnvironmentalResult
	measurements *model.Measurements
	results      measure.Results
	result       *model.ComplianceResult
	abortReason  string
	openedAt     time.Time
	closedAt     *time.Time
	inflight     *validation
}

// validation is an outstanding RunValidation shared by concurrent callers.
type validation struct {
	done   chan struct{}
	cancel context.CancelFunc
	result *model.ComplianceResult
	err    error
}

// New opens a session in PRECHECK for equipmentID under criteria c.
func New(equipmentID string, c model.AcceptanceCriteria, opts Options) (*Session, error) {
	if equipmentID == "" {
		return nil, model.InvalidInput("", "equipment_id", "equipment id is required")
	}
	if err := criteria.ValidateCriteria(c); err != nil {
		return nil, model.InvalidInput("", "criteria", "%s", err.Error())
	}

	s := &Session{
		id:          opts.ID,
		equipmentID: equipmentID,
		criteria:    c,
		now:         opts.Now,
		log:         opts.Logger,
		scorer:      opts.Scorer,
		advisory:    opts.Advisory,
		onTerminal:  opts.OnTerminal,
		state:       model.SessionStatePrecheck,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.L()
	}
	if s.scorer == nil {
		s.scorer = scorer.New()
	}
	s.log = s.log.With(zap.String("session_id", s.id), zap.String("equipment_id", equipmentID))
	s.openedAt = s.now().UTC()

	s.log.Info("session: opened",
		zap.String("class", string(c.Class)),
		zap.String("criteria_version", c.Version),
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// EquipmentID returns the equipment under calibration.
func (s *Session) EquipmentID() string { return s.equipmentID }

// Criteria returns the criteria captured when the session was opened.
func (s *Session) Criteria() model.AcceptanceCriteria { return s.criteria }

// State returns the current state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConfirmReadiness moves PRECHECK → ENVIRONMENTAL.
func (s *Session) ConfirmReadiness() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("ConfirmReadiness", model.SessionStatePrecheck); err != nil {
		return err
	}
	s.transition(model.SessionStateEnvironmental)
	return nil
}

// RecordEnvironmental stores the ambient conditions and moves
// ENVIRONMENTAL → MEASURING. Physically implausible readings are rejected.
func (s *Session) RecordEnvironmental(env model.EnvironmentalConditions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("RecordEnvironmental", model.SessionStateEnvironmental); err != nil {
		return err
	}
	if err := measure.CheckEnvironmentalBounds(env); err != nil {
		return err
	}
	res, err := measure.ValidateEnvironmental(env, s.criteria)
	if err != nil {
		return err
	}

	stored := env
	if env.PressureHPa != nil {
		p := *env.PressureHPa
		stored.PressureHPa = &p
	}
	s.env = &stored
	s.envResult = res
	if res.Exceeded {
		s.log.Info("session: environmental conditions outside criteria",
			zap.Float64("temperature", env.TemperatureC),
			zap.Float64("humidity", env.HumidityPct),
		)
	}
	s.transition(model.SessionStateMeasuring)
	return nil
}

// RecordMeasurements validates and stores the measurement sets and moves
// MEASURING → VALIDATING. On any error nothing is stored.
func (s *Session) RecordMeasurements(m model.Measurements) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("RecordMeasurements", model.SessionStateMeasuring); err != nil {
		return err
	}
	results, err := measure.ValidateAll(m, s.criteria)
	if err != nil {
		return err
	}

	stored := m.Clone()
	s.measurements = &stored
	s.results = results
	s.transition(model.SessionStateValidating)
	return nil
}

// RunValidation scores the session, consults the advisory service if one is
// configured, and moves VALIDATING → COMPLETED. Concurrent callers share one
// validation. On a COMPLETED session it returns the stored result. If the
// session is aborted while the advisory call is outstanding, callers receive
// SESSION_CLOSED. ctx bounds only the caller's wait; the validation itself is
// bounded by the advisory timeout and cancelled by Abort.
func (s *Session) RunValidation(ctx context.Context) (*model.ComplianceResult, error) {
	s.mu.Lock()
	switch {
	case s.state == model.SessionStateCompleted:
		r := s.result.Clone()
		s.mu.Unlock()
		return r, nil
	case s.inflight != nil:
		v := s.inflight
		s.mu.Unlock()
		return s.wait(ctx, v)
	}
	if err := s.expect("RunValidation", model.SessionStateValidating); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	card := s.scorer.Score(scorer.Input{
		Linearity:     s.results.Linearity,
		Repeatability: s.results.Repeatability,
		Accuracy:      s.results.Accuracy,
		Environmental: s.envResult,
	}, s.criteria)
	det := scorer.Deterministic(card, s.criteria)
	req := advisory.NewRequest(s.id, s.criteria.Class, *s.measurements, *s.env, det)

	vctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &validation{done: make(chan struct{}), cancel: cancel}
	s.inflight = v
	s.mu.Unlock()

	go s.validate(vctx, v, req, det)
	return s.wait(ctx, v)
}

func (s *Session) validate(ctx context.Context, v *validation, req advisory.Request, det *model.ComplianceResult) {
	defer v.cancel()

	out := s.advisory.Assess(ctx, req, det)

	s.mu.Lock()
	s.inflight = nil
	if s.state != model.SessionStateValidating {
		v.err = model.SessionClosed(s.id, s.state)
		s.mu.Unlock()
		close(v.done)
		return
	}

	s.result = out.Result
	v.result = out.Result
	s.transition(model.SessionStateCompleted)
	s.log.Info("session: validation complete",
		zap.String("verdict", string(out.Result.Verdict)),
		zap.Int("score", out.Result.Score),
		zap.String("source", string(out.Result.Source)),
		zap.Bool("degraded", out.Result.Degraded),
		zap.Bool("advisory_overridden", out.Overridden),
	)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyTerminal(snap)
	close(v.done)
}

func (s *Session) wait(ctx context.Context, v *validation) (*model.ComplianceResult, error) {
	select {
	case <-v.done:
		if v.err != nil {
			return nil, v.err
		}
		return v.result.Clone(), nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "session: wait for validation")
	}
}

// Abort moves any non-terminal state to ABORTED and cancels an outstanding
// advisory call.
func (s *Session) Abort(reason string) error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		err := model.SessionClosed(s.id, s.state)
		s.mu.Unlock()
		return err
	}

	s.abortReason = reason
	if s.inflight != nil {
		s.inflight.cancel()
	}
	s.transition(model.SessionStateAborted)
	s.log.Info("session: aborted", zap.String("reason", reason))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyTerminal(snap)
	return nil
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Results returns the per-set measurement results computed at
// RecordMeasurements, and false if none have been recorded.
func (s *Session) Results() (measure.Results, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, s.measurements != nil
}

func (s *Session) snapshotLocked() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		ID:             s.id,
		EquipmentID:    s.equipmentID,
		EquipmentClass: s.criteria.Class,
		State:          s.state,
		Criteria:       s.criteria,
		Result:         s.result.Clone(),
		AbortReason:    s.abortReason,
		OpenedAt:       s.openedAt,
	}
	if s.env != nil {
		env := *s.env
		if s.env.PressureHPa != nil {
			p := *s.env.PressureHPa
			env.PressureHPa = &p
		}
		snap.Environmental = &env
	}
	if s.measurements != nil {
		m := s.measurements.Clone()
		snap.Measurements = &m
	}
	if s.closedAt != nil {
		t := *s.closedAt
		snap.ClosedAt = &t
	}
	return snap
}

// expect returns SESSION_CLOSED on a terminal session and INVALID_TRANSITION
// when the state does not match. Caller holds s.mu.
func (s *Session) expect(op string, want model.SessionState) error {
	if s.state.IsTerminal() {
		return model.SessionClosed(s.id, s.state)
	}
	if s.state != want {
		return model.InvalidTransition(op, s.state)
	}
	return nil
}

// transition sets the new state. Caller holds s.mu.
func (s *Session) transition(to model.SessionState) {
	from := s.state
	s.state = to
	if to.IsTerminal() {
		t := s.now().UTC()
		s.closedAt = &t
	}
	s.log.Debug("session: state change",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func (s *Session) notifyTerminal(snap model.SessionSnapshot) {
	if s.onTerminal != nil {
		s.onTerminal(snap)
	}
}
