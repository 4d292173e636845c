// Package registry tracks open calibration sessions and guarantees at most one
// active session per piece of equipment.
package registry

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/session"
)

// Factory builds a new session. It is called with the registry lock held and
// must not call back into the registry.
type Factory func(equipmentID string, c model.AcceptanceCriteria) (*session.Session, error)

// Registry is the in-memory index of sessions by id and by equipment.
type Registry struct {
	source  criteria.Source
	factory Factory

	mu          sync.Mutex
	byID        map[string]*session.Session
	byEquipment map[string]string
}

// New creates a Registry. A nil factory builds sessions with default options.
func New(source criteria.Source, factory Factory) *Registry {
	if factory == nil {
		factory = func(equipmentID string, c model.AcceptanceCriteria) (*session.Session, error) {
			return session.New(equipmentID, c, session.Options{})
		}
	}
	return &Registry{
		source:      source,
		factory:     factory,
		byID:        make(map[string]*session.Session),
		byEquipment: make(map[string]string),
	}
}

// Open starts a session for equipmentID. It fails with EQUIPMENT_BUSY if the
// equipment already has a non-terminal session. A terminal session that was
// never closed is evicted.
func (r *Registry) Open(equipmentID string, class model.EquipmentClass) (*session.Session, error) {
	equipmentID = strings.TrimSpace(equipmentID)
	if equipmentID == "" {
		return nil, model.InvalidInput("", "equipment_id", "equipment id is required")
	}
	c, err := r.source.Lookup(class)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byEquipment[equipmentID]; ok {
		if existing, ok := r.byID[id]; ok {
			if !existing.State().IsTerminal() {
				return nil, model.EquipmentBusy(equipmentID, id)
			}
			zap.L().Debug("registry: evicting unclosed terminal session",
				zap.String("session_id", id),
				zap.String("equipment_id", equipmentID),
			)
			delete(r.byID, id)
		}
		delete(r.byEquipment, equipmentID)
	}

	s, err := r.factory(equipmentID, c)
	if err != nil {
		return nil, err
	}
	r.byID[s.ID()] = s
	r.byEquipment[equipmentID] = s.ID()
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, model.SessionNotFound(id)
	}
	return s, nil
}

// Cancel aborts the session with the given id.
func (r *Registry) Cancel(id, reason string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Abort(reason)
}

// Close removes a terminal session. It reports whether this call removed the
// entry; closing an unknown or already closed id returns false and no error.
// Closing a non-terminal session is an INVALID_TRANSITION.
func (r *Registry) Close(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if state := s.State(); !state.IsTerminal() {
		return false, model.InvalidTransition("Close", state)
	}

	delete(r.byID, id)
	if r.byEquipment[s.EquipmentID()] == id {
		delete(r.byEquipment, s.EquipmentID())
	}
	return true, nil
}

// Active returns snapshots of all non-terminal sessions, oldest first.
func (r *Registry) Active() []model.SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]model.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		if !snap.State.IsTerminal() {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of tracked sessions, terminal ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
