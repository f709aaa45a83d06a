package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/model"
)

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := &fakeRepo{
		sources: []model.Provenance{source(1, model.ProvenanceDownloaded, 48*time.Hour)},
	}
	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL

	checker := NewChecker(newTestCollector(repo, 24*time.Hour), NewAlerter(cfg), cfg)
	snap, alerts, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.StalePending)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStalePending, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := testMonitoringConfig()
	checker := NewChecker(newTestCollector(&fakeRepo{listErr: errors.New("db down")}, 0), NewAlerter(cfg), cfg)

	_, _, err := checker.Check(context.Background())
	require.Error(t, err)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(&fakeRepo{}, 0), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	// Zero interval falls back to 5 minutes.
	checker := NewChecker(NewCollector(&fakeRepo{}, 0), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
