package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		StaleAfterHours:      24,
		LookbackWindowHours:  24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &Snapshot{
		SourcesTotal:     20,
		SourcesProcessed: 20,
		Scopes:           3,
		LookbackHours:    24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &Snapshot{
		SourcesTotal:     10,
		SourcesProcessed: 6,
		SourcesFailed:    4,
		IngestFailRate:   0.4,
		Scopes:           1,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIngestFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 10, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_FailuresBelowMinimumSample(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &Snapshot{
		SourcesProcessed: 1,
		SourcesFailed:    2,
		IngestFailRate:   2.0 / 3.0,
		FailedSources:    []FailedSource{{ID: 7}, {ID: 9}},
		Scopes:           1,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIngestFailures, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Equal(t, []int64{7, 9}, alerts[0].Details["provenance_id"])
}

func TestAlerter_Evaluate_StalePending(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{StalePending: 3, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStalePending, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 downloaded source file(s)")
	assert.Contains(t, alerts[0].Message, "24h")
}

func TestAlerter_Evaluate_NoAggregates(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&Snapshot{SourcesProcessed: 2, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoAggregates, alerts[0].Type)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &Snapshot{
		SourcesProcessed: 5,
		SourcesFailed:    5,
		IngestFailRate:   0.5,
		StalePending:     1,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)
	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertIngestFailureRate])
	assert.True(t, types[AlertStalePending])
	assert.True(t, types[AlertNoAggregates])
	assert.False(t, types[AlertIngestFailures])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertStalePending, alert.Type)

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertStalePending, Severity: "low", Message: "a"},
		{Type: AlertStalePending, Severity: "low", Message: "b"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStalePending}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.WebhookURL = "http://127.0.0.1:1"
	a := NewAlerter(cfg)
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertIngestFailures}})
	assert.Equal(t, 0, sent)
}
