package population

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crime-stats/internal/metrics"
	"github.com/sells-group/crime-stats/internal/store"
)

// LoadResult summarizes one Load call.
type LoadResult struct {
	Year            int      `json:"year" yaml:"year"`
	Source          string   `json:"source" yaml:"source"`
	StatesProcessed int      `json:"states_processed" yaml:"states_processed"`
	TotalRecords    int64    `json:"total_records" yaml:"total_records"`
	Errors          []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Loader fetches figures from a Source and upserts them.
type Loader struct {
	repo        store.PopulationRepository
	concurrency int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// NewLoader creates a loader writing to repo with at most concurrency
// states in flight.
func NewLoader(repo store.PopulationRepository, concurrency int, m *metrics.Metrics) *Loader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Loader{
		repo:        repo,
		concurrency: concurrency,
		metrics:     m,
		log:         zap.L().With(zap.String("component", "population.loader")),
	}
}

// Load fetches and stores figures for each state. Nil states loads every
// state in StateFIPS. A failing state is recorded in Errors and does not
// stop the others; only cancellation is returned as an error.
func (l *Loader) Load(ctx context.Context, src Source, year int, states []string) (*LoadResult, error) {
	if year < 1900 || year > 2100 {
		return nil, eris.Errorf("population: year %d out of range 1900-2100", year)
	}
	if len(states) == 0 {
		states = States()
	}

	start := time.Now()
	log := l.log.With(zap.String("source", src.Name()), zap.Int("year", year))
	log.Info("loading population figures", zap.Int("states", len(states)))

	var (
		mu     sync.Mutex
		result = &LoadResult{Year: year, Source: src.Name()}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, state := range states {
		g.Go(func() error {
			n, err := l.loadState(gctx, src, year, state)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("population: state failed", zap.String("state", state), zap.Error(err))
				result.Errors = append(result.Errors, fmt.Sprintf("Failed to fetch %s: %v", state, err))
				return nil
			}
			result.StatesProcessed++
			result.TotalRecords += n
			log.Debug("stored population records", zap.String("state", state), zap.Int64("records", n))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, eris.Wrap(err, "population: load cancelled")
	}

	slices.Sort(result.Errors)
	l.metrics.AddPopulationRecords(src.Name(), result.TotalRecords)
	log.Info("population load complete",
		zap.Int("states_processed", result.StatesProcessed),
		zap.Int64("records", result.TotalRecords),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (l *Loader) loadState(ctx context.Context, src Source, year int, state string) (int64, error) {
	figures, err := src.Fetch(ctx, year, state)
	if err != nil {
		return 0, err
	}
	if len(figures) == 0 {
		return 0, nil
	}
	for i := range figures {
		if figures[i].Source == "" {
			figures[i].Source = src.Name()
		}
	}
	n, err := l.repo.UpsertPopulation(ctx, figures)
	if err != nil {
		return 0, eris.Wrap(err, "population: upsert")
	}
	return n, nil
}
