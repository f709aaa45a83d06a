package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRepo implements Repository for testing.
type fakeRepo struct {
	sources  []model.Provenance
	scopes   []model.Scope
	listErr  error
	scopeErr error
}

func (f *fakeRepo) ListProvenance(_ context.Context, _ store.ProvenanceFilter) ([]model.Provenance, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sources, nil
}

func (f *fakeRepo) ListScopes(_ context.Context) ([]model.Scope, error) {
	if f.scopeErr != nil {
		return nil, f.scopeErr
	}
	return f.scopes, nil
}

func source(id int64, status model.ProvenanceStatus, age time.Duration) model.Provenance {
	ts := testNow.Add(-age)
	return model.Provenance{
		ID:         id,
		SourceName: "FBI_UCR",
		DataType:   "arrests",
		Year:       2022,
		Status:     status,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func newTestCollector(repo Repository, staleAfter time.Duration) *Collector {
	c := NewCollector(repo, staleAfter)
	c.now = func() time.Time { return testNow }
	return c
}

func TestCollect_Counts(t *testing.T) {
	failed := source(3, model.ProvenanceFailed, time.Hour)
	failed.Metadata = map[string]any{"error": "ingest: missing columns: year"}

	repo := &fakeRepo{
		sources: []model.Provenance{
			source(1, model.ProvenanceProcessed, time.Hour),
			source(2, model.ProvenanceProcessed, 2*time.Hour),
			failed,
			source(4, model.ProvenanceDownloaded, 30*time.Minute),
		},
		scopes: []model.Scope{
			{Year: 2021, CrimeType: "arrests"},
			{Year: 2022, CrimeType: "arrests"},
		},
	}

	snap, err := newTestCollector(repo, 24*time.Hour).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.SourcesTotal)
	assert.Equal(t, 1, snap.SourcesDownloaded)
	assert.Equal(t, 2, snap.SourcesProcessed)
	assert.Equal(t, 1, snap.SourcesFailed)
	assert.InDelta(t, 1.0/3.0, snap.IngestFailRate, 1e-9)
	assert.Equal(t, 0, snap.StalePending)
	require.Len(t, snap.FailedSources, 1)
	assert.Equal(t, int64(3), snap.FailedSources[0].ID)
	assert.Equal(t, "ingest: missing columns: year", snap.FailedSources[0].Error)
	assert.Equal(t, 2, snap.Scopes)
	require.NotNil(t, snap.LatestScope)
	assert.Equal(t, 2022, snap.LatestScope.Year)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollect_LookbackWindow(t *testing.T) {
	repo := &fakeRepo{
		sources: []model.Provenance{
			source(1, model.ProvenanceProcessed, time.Hour),
			source(2, model.ProvenanceFailed, 48*time.Hour),
		},
	}

	snap, err := newTestCollector(repo, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.SourcesTotal)
	assert.Equal(t, 0, snap.SourcesFailed)
	assert.Zero(t, snap.IngestFailRate)

	// Zero lookback includes everything.
	snap, err = newTestCollector(repo, 0).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.SourcesTotal)
	assert.Equal(t, 1, snap.SourcesFailed)
}

func TestCollect_StalePendingIgnoresWindow(t *testing.T) {
	repo := &fakeRepo{
		sources: []model.Provenance{
			source(1, model.ProvenanceDownloaded, 72*time.Hour),
			source(2, model.ProvenanceDownloaded, 2*time.Hour),
			source(3, model.ProvenanceFailed, 72*time.Hour),
		},
	}

	snap, err := newTestCollector(repo, 24*time.Hour).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.StalePending)
	assert.Equal(t, 1, snap.SourcesDownloaded)

	snap, err = newTestCollector(repo, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.StalePending)
}

func TestCollect_FailedSourcesCapped(t *testing.T) {
	repo := &fakeRepo{}
	for i := int64(1); i <= 15; i++ {
		repo.sources = append(repo.sources, source(i, model.ProvenanceFailed, time.Minute))
	}

	snap, err := newTestCollector(repo, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.SourcesFailed)
	assert.Len(t, snap.FailedSources, maxFailedSources)
	assert.InDelta(t, 1.0, snap.IngestFailRate, 1e-9)
}

func TestCollect_Empty(t *testing.T) {
	snap, err := newTestCollector(&fakeRepo{}, time.Hour).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.SourcesTotal)
	assert.Zero(t, snap.IngestFailRate)
	assert.Nil(t, snap.LatestScope)
}

func TestCollect_Errors(t *testing.T) {
	_, err := newTestCollector(&fakeRepo{listErr: errors.New("db down")}, 0).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list provenance")

	_, err = newTestCollector(&fakeRepo{scopeErr: errors.New("db down")}, 0).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list scopes")
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "", failureMessage(nil))
	assert.Equal(t, "", failureMessage(map[string]any{"error": nil}))
	assert.Equal(t, "boom", failureMessage(map[string]any{"error": "boom"}))
	assert.Equal(t, "42", failureMessage(map[string]any{"error": 42}))
}

// The store satisfies Repository.
var _ Repository = store.Store(nil)
