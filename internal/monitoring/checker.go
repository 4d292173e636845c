package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/config"
)

// DefaultCheckInterval applies when the config leaves the interval unset.
const DefaultCheckInterval = 5 * time.Minute

// Report is the outcome of one check.
type Report struct {
	Snapshot *MetricsSnapshot `json:"snapshot"`
	Alerts   []Alert          `json:"alerts"`
	Sent     int              `json:"sent"`
}

// Checker collects metrics, evaluates them, and delivers alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Check runs one collect/evaluate cycle. Alerts are only sent when send is
// true.
func (c *Checker) Check(ctx context.Context, send bool) (*Report, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	rep := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	if send {
		rep.Sent = c.alerter.SendAlerts(ctx, rep.Alerts)
	}
	return rep, nil
}

// Run checks on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			rep, err := c.Check(ctx, true)
			if err != nil {
				log.Error("monitoring: failed to collect metrics", zap.Error(err))
				continue
			}
			if len(rep.Alerts) == 0 {
				log.Debug("monitoring: no alerts triggered",
					zap.Int("sessions", rep.Snapshot.SessionsTotal))
				continue
			}
			log.Info("monitoring: alert check complete",
				zap.Int("alerts_triggered", len(rep.Alerts)),
				zap.Int("alerts_sent", rep.Sent),
			)
		}
	}
}
