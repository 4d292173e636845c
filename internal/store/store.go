// Package store persists terminal calibration session snapshots.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/model"
)

// SessionFilter specifies criteria for listing persisted sessions.
type SessionFilter struct {
	State       model.SessionState `json:"state,omitempty"`
	EquipmentID string             `json:"equipment_id,omitempty"`
	Verdict     model.Verdict      `json:"verdict,omitempty"`
	Since       time.Time          `json:"since,omitempty"`
	Limit       int                `json:"limit,omitempty"`
}

// DefaultListLimit caps ListSessions when the filter sets no limit.
const DefaultListLimit = 100

// Store defines the persistence interface for session snapshots.
type Store interface {
	// SaveSession inserts or replaces the snapshot with the same id.
	SaveSession(ctx context.Context, snap model.SessionSnapshot) error
	// GetSession returns SESSION_NOT_FOUND for an unknown id.
	GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error)
	// ListSessions returns matching snapshots, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error)
	// ImportSessions upserts many snapshots at once and returns the row count.
	ImportSessions(ctx context.Context, snaps []model.SessionSnapshot) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// sessionColumns is the column order shared by both backends.
var sessionColumns = []string{
	"id", "equipment_id", "equipment_class", "state",
	"verdict", "score", "degraded", "overridden", "source",
	"snapshot", "opened_at", "closed_at", "updated_at",
}

// sessionRow is the flattened form of a snapshot. The indexed columns are
// derived from the snapshot, which stays the source of truth.
type sessionRow struct {
	ID             string
	EquipmentID    string
	EquipmentClass string
	State          string
	Verdict        *string
	Score          *int
	Degraded       bool
	Overridden     bool
	Source         *string
	Snapshot       []byte
	OpenedAt       time.Time
	ClosedAt       *time.Time
}

func toRow(snap model.SessionSnapshot) (sessionRow, error) {
	if snap.ID == "" {
		return sessionRow{}, eris.New("store: snapshot has no id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return sessionRow{}, eris.Wrapf(err, "store: marshal snapshot %s", snap.ID)
	}
	row := sessionRow{
		ID:             snap.ID,
		EquipmentID:    snap.EquipmentID,
		EquipmentClass: string(snap.EquipmentClass),
		State:          string(snap.State),
		Snapshot:       data,
		OpenedAt:       snap.OpenedAt.UTC(),
	}
	if snap.ClosedAt != nil {
		t := snap.ClosedAt.UTC()
		row.ClosedAt = &t
	}
	if r := snap.Result; r != nil {
		verdict := string(r.Verdict)
		source := string(r.Source)
		score := r.Score
		row.Verdict = &verdict
		row.Source = &source
		row.Score = &score
		row.Degraded = r.Degraded
		row.Overridden = r.AdvisoryOverridden
	}
	return row, nil
}

func fromSnapshotJSON(id string, data []byte) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal snapshot %s", id)
	}
	return &snap, nil
}

func listLimit(f SessionFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
