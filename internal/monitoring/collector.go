// Package monitoring reports ingestion health: provenance status counts,
// failure rates, stale downloads and aggregate coverage, with webhook alerts
// when thresholds are breached.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

// maxFailedSources caps the failures listed on a snapshot.
const maxFailedSources = 10

// FailedSource is a provenance record whose last ingestion failed.
type FailedSource struct {
	ID         int64     `json:"id" yaml:"id"`
	SourceName string    `json:"source_name" yaml:"source_name"`
	DataType   string    `json:"data_type" yaml:"data_type"`
	Year       int       `json:"year" yaml:"year"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// Snapshot holds a point-in-time view of ingestion health.
type Snapshot struct {
	// Provenance records updated within the lookback window.
	SourcesTotal      int     `json:"sources_total" yaml:"sources_total"`
	SourcesDownloaded int     `json:"sources_downloaded" yaml:"sources_downloaded"`
	SourcesProcessed  int     `json:"sources_processed" yaml:"sources_processed"`
	SourcesFailed     int     `json:"sources_failed" yaml:"sources_failed"`
	IngestFailRate    float64 `json:"ingest_fail_rate" yaml:"ingest_fail_rate"`

	// Downloaded records waiting longer than the stale threshold, at any age.
	StalePending int `json:"stale_pending" yaml:"stale_pending"`

	FailedSources []FailedSource `json:"failed_sources,omitempty" yaml:"failed_sources,omitempty"`

	// Aggregate coverage.
	Scopes      int          `json:"scopes" yaml:"scopes"`
	LatestScope *model.Scope `json:"latest_scope,omitempty" yaml:"latest_scope,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// Repository is the subset of the store the collector reads.
type Repository interface {
	ListProvenance(ctx context.Context, filter store.ProvenanceFilter) ([]model.Provenance, error)
	ListScopes(ctx context.Context) ([]model.Scope, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	repo       Repository
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Downloaded records older than staleAfter
// count as stale; zero disables the check.
func NewCollector(repo Repository, staleAfter time.Duration) *Collector {
	return &Collector{repo: repo, staleAfter: staleAfter, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	sources, err := c.repo.ListProvenance(ctx, store.ProvenanceFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list provenance")
	}

	for _, p := range sources {
		if p.Status == model.ProvenanceDownloaded && c.staleAfter > 0 && now.Sub(p.CreatedAt) > c.staleAfter {
			snap.StalePending++
		}
		if lookbackHours > 0 && p.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.SourcesTotal++
		switch p.Status {
		case model.ProvenanceDownloaded:
			snap.SourcesDownloaded++
		case model.ProvenanceProcessed:
			snap.SourcesProcessed++
		case model.ProvenanceFailed:
			snap.SourcesFailed++
			if len(snap.FailedSources) < maxFailedSources {
				snap.FailedSources = append(snap.FailedSources, FailedSource{
					ID:         p.ID,
					SourceName: p.SourceName,
					DataType:   p.DataType,
					Year:       p.Year,
					Error:      failureMessage(p.Metadata),
					UpdatedAt:  p.UpdatedAt,
				})
			}
		}
	}

	if finished := snap.SourcesProcessed + snap.SourcesFailed; finished > 0 {
		snap.IngestFailRate = float64(snap.SourcesFailed) / float64(finished)
	}

	scopes, err := c.repo.ListScopes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scopes")
	}
	snap.Scopes = len(scopes)
	for i := range scopes {
		s := scopes[i]
		if snap.LatestScope == nil || s.Year > snap.LatestScope.Year {
			snap.LatestScope = &s
		}
	}

	return snap, nil
}

func failureMessage(metadata map[string]any) string {
	v, ok := metadata["error"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
