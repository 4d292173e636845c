// Package monitoring summarises persisted calibration sessions and raises
// alerts when advisory fallbacks or failures pile up.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/store"
)

// collectLimit caps the sessions read for one snapshot.
const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of calibration outcomes.
type MetricsSnapshot struct {
	SessionsTotal int `json:"sessions_total"`
	Completed     int `json:"completed"`
	Aborted       int `json:"aborted"`

	Pass        int     `json:"pass"`
	Conditional int     `json:"conditional"`
	Fail        int     `json:"fail"`
	FailRate    float64 `json:"fail_rate"`
	AvgScore    float64 `json:"avg_score"`

	// Degraded results fell back to the deterministic verdict.
	Degraded     int     `json:"degraded"`
	DegradedRate float64 `json:"degraded_rate"`
	AIAssisted   int     `json:"ai_assisted"`
	Overridden   int     `json:"overridden"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SessionLister is the store subset the collector reads from.
type SessionLister interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.SessionSnapshot, error)
}

// Collector gathers metrics from persisted sessions.
type Collector struct {
	store SessionLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st SessionLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of session metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	sessions, err := c.store.ListSessions(ctx, store.SessionFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	var totalScore int
	for _, s := range sessions {
		snap.SessionsTotal++
		switch s.State {
		case model.SessionStateCompleted:
			snap.Completed++
		case model.SessionStateAborted:
			snap.Aborted++
		}

		r := s.Result
		if r == nil {
			continue
		}
		switch r.Verdict {
		case model.VerdictPass:
			snap.Pass++
		case model.VerdictConditional:
			snap.Conditional++
		case model.VerdictFail:
			snap.Fail++
		}
		totalScore += r.Score
		if r.Degraded {
			snap.Degraded++
		}
		if r.Source == model.SourceAIAssisted {
			snap.AIAssisted++
		}
		if r.AdvisoryOverridden {
			snap.Overridden++
		}
	}

	scored := snap.Pass + snap.Conditional + snap.Fail
	if scored > 0 {
		snap.FailRate = float64(snap.Fail) / float64(scored)
		snap.DegradedRate = float64(snap.Degraded) / float64(scored)
		snap.AvgScore = float64(totalScore) / float64(scored)
	}
	return snap, nil
}
