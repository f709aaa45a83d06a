// Package population resolves the denominators used for per-capita rates.
// Figures are loaded from a pluggable Source and read back through Lookup.
package population

import (
	"context"
	"fmt"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

// Lookup resolves population totals. Implementations must be safe to call
// repeatedly within one aggregation run.
type Lookup interface {
	// Population sums every figure matching q. A nil result means no figure matched.
	Population(ctx context.Context, q model.PopulationQuery) (*int64, error)
	Exists(ctx context.Context, year int, state string) (bool, error)
	Delete(ctx context.Context, year int, state string) (int64, error)
}

// LookupError is returned when the backing store fails.
type LookupError struct {
	Query model.PopulationQuery
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("population: lookup year=%d state=%q race=%q age_group=%q sex=%q: %v",
		e.Query.Year, e.Query.State, e.Query.Race, e.Query.AgeGroup, e.Query.Sex, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// StoreLookup implements Lookup over a PopulationRepository.
type StoreLookup struct {
	repo store.PopulationRepository
}

// NewStoreLookup creates a lookup reading from repo. Pass a store.Tx to read
// inside a transaction.
func NewStoreLookup(repo store.PopulationRepository) *StoreLookup {
	return &StoreLookup{repo: repo}
}

// Population implements Lookup.
func (l *StoreLookup) Population(ctx context.Context, q model.PopulationQuery) (*int64, error) {
	p, err := l.repo.SumPopulation(ctx, q)
	if err != nil {
		return nil, &LookupError{Query: q, Err: err}
	}
	return p, nil
}

// Exists implements Lookup.
func (l *StoreLookup) Exists(ctx context.Context, year int, state string) (bool, error) {
	ok, err := l.repo.PopulationExists(ctx, year, state)
	if err != nil {
		return false, &LookupError{Query: model.PopulationQuery{Year: year, State: state}, Err: err}
	}
	return ok, nil
}

// Delete implements Lookup.
func (l *StoreLookup) Delete(ctx context.Context, year int, state string) (int64, error) {
	n, err := l.repo.DeletePopulation(ctx, year, state)
	if err != nil {
		return 0, &LookupError{Query: model.PopulationQuery{Year: year, State: state}, Err: err}
	}
	return n, nil
}
