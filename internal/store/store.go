// Package store persists provenance records, incidents, population figures
// and pre-computed aggregates. Postgres is the production backend; SQLite
// serves local runs and tests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ProvenanceFilter specifies criteria for listing provenance records.
type ProvenanceFilter struct {
	Statuses []model.ProvenanceStatus `json:"statuses,omitempty"`
	Year     int                      `json:"year,omitempty"`
	Limit    int                      `json:"limit,omitempty"`
}

// IncidentFilter selects incidents for aggregation. Empty States means all states.
type IncidentFilter struct {
	Year      int      `json:"year"`
	CrimeType string   `json:"crime_type"`
	States    []string `json:"states,omitempty"`
}

// Group is one bucket of a GROUP BY over incidents.
type Group struct {
	Value         string `json:"value"`
	IncidentCount int64  `json:"incident_count"`
}

// AggregateFilter selects aggregate rows. Zero values match everything.
type AggregateFilter struct {
	Year            int                   `json:"year,omitempty"`
	CrimeType       string                `json:"crime_type,omitempty"`
	DemographicType model.DemographicType `json:"demographic_type,omitempty"`
	State           string                `json:"state,omitempty"`
	Limit           int                   `json:"limit,omitempty"`
}

// ProvenanceRepository tracks ingested source files.
type ProvenanceRepository interface {
	CreateProvenance(ctx context.Context, p *model.Provenance) error
	// GetProvenance returns ErrNotFound when id is unknown.
	GetProvenance(ctx context.Context, id int64) (*model.Provenance, error)
	ListProvenance(ctx context.Context, filter ProvenanceFilter) ([]model.Provenance, error)
	// MarkProcessed sets status processed and merges metadata into the stored map.
	MarkProcessed(ctx context.Context, id int64, metadata map[string]any) error
	// MarkFailed sets status failed and merges metadata plus {"error": message}.
	MarkFailed(ctx context.Context, id int64, message string, metadata map[string]any) error
}

// IncidentRepository stores normalized incident rows.
type IncidentRepository interface {
	InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error)
	SumIncidents(ctx context.Context, filter IncidentFilter) (int64, error)
	// GroupIncidents sums incident_count per non-null value of dim, ordered by value.
	GroupIncidents(ctx context.Context, filter IncidentFilter, dim model.Dimension) ([]Group, error)
	CountIncidents(ctx context.Context, filter IncidentFilter) (int64, error)
}

// AggregateRepository stores pre-computed aggregate rows.
type AggregateRepository interface {
	// UpsertAggregate inserts or updates the row for a.AggregateKey and sets a.ID.
	// yoy_change is never modified by an update.
	UpsertAggregate(ctx context.Context, a *model.AggregateStat) error
	// FindAggregate returns (nil, nil) when no row has the key.
	FindAggregate(ctx context.Context, key model.AggregateKey) (*model.AggregateStat, error)
	ListAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateStat, error)
	SetYoYChange(ctx context.Context, id int64, yoy *float64) error
	// DeleteAggregates removes rows for year; an empty crimeType removes every crime type.
	DeleteAggregates(ctx context.Context, year int, crimeType string) (int64, error)
	AggregatesExist(ctx context.Context, year int, crimeType string) (bool, error)
	ListScopes(ctx context.Context) ([]model.Scope, error)
}

// PopulationRepository stores denominator figures.
type PopulationRepository interface {
	UpsertPopulation(ctx context.Context, figures []model.PopulationFigure) (int64, error)
	// SumPopulation sums every row matching q; nil when nothing matches.
	SumPopulation(ctx context.Context, q model.PopulationQuery) (*int64, error)
	PopulationExists(ctx context.Context, year int, state string) (bool, error)
	DeletePopulation(ctx context.Context, year int, state string) (int64, error)
}

// Repositories groups every repository.
type Repositories interface {
	ProvenanceRepository
	IncidentRepository
	AggregateRepository
	PopulationRepository
}

// Tx is a unit of work. All repository calls share one database transaction.
type Tx interface {
	Repositories
	// LockScope blocks until no other transaction holds key.
	LockScope(ctx context.Context, key string) error
}

// Store is the persistence entry point.
type Store interface {
	Repositories
	// WithTx runs fn inside a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
