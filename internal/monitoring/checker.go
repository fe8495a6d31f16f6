package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker polls import health on an interval and alerts on the webhook.
// An alert type that stays active is re-sent on every tick; the log notes
// when the last active alert clears.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	active    map[AlertType]bool
}

// NewChecker creates a Checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		active:    make(map[AlertType]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks import health every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	every := c.interval()
	log.Info("import health checks scheduled",
		zap.Duration("every", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Check(ctx, log)
		case <-ctx.Done():
			log.Info("import health checks stopped")
			return
		}
	}
}

// Check runs one collection and returns the alerts it raised.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("import health snapshot failed", zap.Error(err))
		return nil
	}
	log.Debug("import health snapshot",
		zap.Int("runs", snap.ImportTotal),
		zap.Int("complete", snap.ImportComplete),
		zap.Int("failed", snap.ImportFailed),
		zap.Int("running", snap.ImportRunning),
		zap.Int("imported", snap.Imported),
		zap.Int("element_failures", snap.ElementFailures),
		zap.String("source", snap.SourceState),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		if len(c.active) > 0 {
			log.Info("import health recovered", zap.Int("cleared", len(c.active)))
			c.active = make(map[AlertType]bool)
		}
		return nil
	}

	next := make(map[AlertType]bool, len(alerts))
	for _, a := range alerts {
		next[a.Type] = true
	}
	c.active = next

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("import health degraded",
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
		zap.Float64("fail_rate", snap.ImportFailRate),
		zap.String("source", snap.SourceState),
	)
	return alerts
}
