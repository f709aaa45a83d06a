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

	"github.com/sells-group/crime-stats/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestFailureRate AlertType = "ingest_failure_rate"
	AlertIngestFailures    AlertType = "ingest_failures"
	AlertStalePending      AlertType = "stale_pending"
	AlertNoAggregates      AlertType = "no_aggregates"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type" yaml:"type"`
	Severity  string         `json:"severity" yaml:"severity"`
	Message   string         `json:"message" yaml:"message"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// minFinishedForRate is the sample size below which the failure rate is not alerted on.
const minFinishedForRate = 5

// Alerter evaluates a Snapshot against configured thresholds
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
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.SourcesProcessed + snap.SourcesFailed
	rateAlerted := false
	if finished >= minFinishedForRate && snap.IngestFailRate > a.cfg.FailureRateThreshold {
		rateAlerted = true
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingestion failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.IngestFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SourcesFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.IngestFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SourcesFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.SourcesFailed > 0 && !rateAlerted {
		ids := make([]int64, 0, len(snap.FailedSources))
		for _, f := range snap.FailedSources {
			ids = append(ids, f.ID)
		}
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d source file(s) failed ingestion in last %dh",
				snap.SourcesFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count":  snap.SourcesFailed,
				"provenance_id": ids,
			},
			Timestamp: now,
		})
	}

	if snap.StalePending > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStalePending,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d downloaded source file(s) not ingested after %dh",
				snap.StalePending, a.cfg.StaleAfterHours,
			),
			Details: map[string]any{
				"stale_count":       snap.StalePending,
				"stale_after_hours": a.cfg.StaleAfterHours,
			},
			Timestamp: now,
		})
	}

	if snap.SourcesProcessed > 0 && snap.Scopes == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoAggregates,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d source file(s) ingested but no statistics have been calculated",
				snap.SourcesProcessed,
			),
			Details: map[string]any{
				"processed": snap.SourcesProcessed,
			},
			Timestamp: now,
		})
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

// sendWebhook posts a single alert to the webhook URL.
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
