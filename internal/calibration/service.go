// Package calibration is the session-id addressed facade over the registry,
// sessions, and the snapshot store. Transports (HTTP, CLI) call into it.
package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/advisory"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/registry"
	"github.com/sells-group/calibration-cli/internal/resilience"
	"github.com/sells-group/calibration-cli/internal/scorer"
	"github.com/sells-group/calibration-cli/internal/session"
	"github.com/sells-group/calibration-cli/internal/store"
)

// DefaultPersistTimeout bounds one terminal snapshot write, retries included.
const DefaultPersistTimeout = 10 * time.Second

// Options wires the service dependencies. Only Criteria is required.
type Options struct {
	Criteria criteria.Source
	// Store persists terminal snapshots. Nil keeps sessions in memory only.
	Store    store.Store
	Advisory *advisory.Adapter
	Scorer   *scorer.Scorer
	Retry    resilience.RetryConfig
	// PersistTimeout defaults to DefaultPersistTimeout.
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Service runs calibration sessions for callers that only hold a session id.
type Service struct {
	registry       *registry.Registry
	store          store.Store
	advisory       *advisory.Adapter
	scorer         *scorer.Scorer
	retry          resilience.RetryConfig
	persistTimeout time.Duration
	now            func() time.Time

	persisting sync.WaitGroup
}

// New creates a Service.
func New(opts Options) *Service {
	s := &Service{
		store:          opts.Store,
		advisory:       opts.Advisory,
		scorer:         opts.Scorer,
		retry:          opts.Retry,
		persistTimeout: opts.PersistTimeout,
		now:            opts.Now,
	}
	if s.persistTimeout <= 0 {
		s.persistTimeout = DefaultPersistTimeout
	}
	if s.retry.Operation == "" {
		s.retry.Operation = "persist session"
	}
	s.registry = registry.New(opts.Criteria, s.newSession)
	return s
}

func (s *Service) newSession(equipmentID string, c model.AcceptanceCriteria) (*session.Session, error) {
	return session.New(equipmentID, c, session.Options{
		Now:        s.now,
		Scorer:     s.scorer,
		Advisory:   s.advisory,
		OnTerminal: s.onTerminal,
	})
}

// Open starts a session and returns its id.
func (s *Service) Open(equipmentID string, class model.EquipmentClass) (string, error) {
	sess, err := s.registry.Open(equipmentID, class)
	if err != nil {
		return "", err
	}
	zap.L().Info("calibration: session opened",
		zap.String("session_id", sess.ID()),
		zap.String("equipment_id", sess.EquipmentID()),
		zap.String("equipment_class", string(class)),
	)
	return sess.ID(), nil
}

// ConfirmReadiness moves the session to ENVIRONMENTAL.
func (s *Service) ConfirmReadiness(id string) (model.SessionState, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	if err := sess.ConfirmReadiness(); err != nil {
		return "", err
	}
	return sess.State(), nil
}

// RecordEnvironmental stores the ambient conditions and moves to MEASURING.
func (s *Service) RecordEnvironmental(id string, env model.EnvironmentalConditions) (model.SessionState, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	if err := sess.RecordEnvironmental(env); err != nil {
		return "", err
	}
	return sess.State(), nil
}

// RecordMeasurements validates and stores the sets and moves to VALIDATING.
func (s *Service) RecordMeasurements(id string, m model.Measurements) (model.SessionState, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	if err := sess.RecordMeasurements(m); err != nil {
		return "", err
	}
	return sess.State(), nil
}

// RunValidation scores the session. A session that already completed and
// was persisted returns its stored result.
func (s *Service) RunValidation(ctx context.Context, id string) (*model.ComplianceResult, error) {
	sess, err := s.registry.Get(id)
	if err == nil {
		return sess.RunValidation(ctx)
	}
	if !model.IsCode(err, model.CodeSessionNotFound) || s.store == nil {
		return nil, err
	}
	snap, serr := s.store.GetSession(ctx, id)
	if serr != nil {
		return nil, serr
	}
	if snap.State != model.SessionStateCompleted || snap.Result == nil {
		return nil, model.SessionClosed(id, snap.State)
	}
	return snap.Result, nil
}

// Abort ends the session. Aborting a terminal session is SESSION_CLOSED.
func (s *Service) Abort(ctx context.Context, id, reason string) (model.SessionState, error) {
	err := s.registry.Cancel(id, reason)
	if model.IsCode(err, model.CodeSessionNotFound) && s.store != nil {
		snap, serr := s.store.GetSession(ctx, id)
		if serr != nil {
			return "", serr
		}
		return "", model.SessionClosed(id, snap.State)
	}
	if err != nil {
		return "", err
	}
	return model.SessionStateAborted, nil
}

// Get returns the live snapshot, or the persisted one once the session is
// closed.
func (s *Service) Get(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	sess, err := s.registry.Get(id)
	if err == nil {
		snap := sess.Snapshot()
		return &snap, nil
	}
	if !model.IsCode(err, model.CodeSessionNotFound) || s.store == nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

// Active lists the non-terminal sessions.
func (s *Service) Active() []model.SessionSnapshot {
	return s.registry.Active()
}

// Drain waits for terminal snapshot writes still in flight.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "calibration: drain persistence")
	}
}

// onTerminal hands the final snapshot to a background write so RunValidation
// and Abort callers never wait on the store.
func (s *Service) onTerminal(snap model.SessionSnapshot) {
	if s.store == nil {
		return
	}
	s.persisting.Go(func() { s.persist(snap) })
}

// persist writes the snapshot and frees the registry entry. When every write
// attempt fails the entry is left for Open to evict so the snapshot stays
// readable.
func (s *Service) persist(snap model.SessionSnapshot) {
	log := zap.L().With(zap.String("session_id", snap.ID), zap.String("state", string(snap.State)))

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.SaveSession(ctx, snap)
	})
	if err != nil {
		log.Error("calibration: persist session failed", zap.Error(err))
		return
	}
	if _, err := s.registry.Close(snap.ID); err != nil {
		log.Warn("calibration: close session", zap.Error(err))
		return
	}
	log.Debug("calibration: session persisted")
}
