package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/config"
	"github.com/access-atlas/atlas/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertImportFailureRate  AlertType = "import_failure_rate"
	AlertSourceCircuitOpen  AlertType = "source_circuit_open"
	AlertElementFailureRate AlertType = "element_failure_rate"
)

// elementFailureThreshold is the share of fetched elements that may fail to
// write before an alert fires.
const elementFailureThreshold = 0.05

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minFinished := a.cfg.MinFinishedRuns
	if minFinished <= 0 {
		minFinished = 5
	}
	finished := snap.ImportComplete + snap.ImportFailed
	if finished >= minFinished && snap.ImportFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertImportFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Import failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.ImportFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ImportFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ImportFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ImportFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.SourceState == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:      AlertSourceCircuitOpen,
			Severity:  "high",
			Message:   "Overpass circuit is open; imports fail fast until it recovers",
			Timestamp: now,
		})
	}

	if snap.Fetched > 0 {
		rate := float64(snap.ElementFailures) / float64(snap.Fetched)
		if rate > elementFailureThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertElementFailureRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"%d of %d fetched elements failed to write in last %dh",
					snap.ElementFailures, snap.Fetched, snap.LookbackHours,
				),
				Details: map[string]any{
					"failed":  snap.ElementFailures,
					"fetched": snap.Fetched,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
