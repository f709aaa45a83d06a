package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

func testConfig() config.StatsConfig {
	return config.StatsConfig{PerCapitaBase: 100000, YoYMinYear: 1900}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestEngine(st store.Store, opts ...Option) *Engine {
	opts = append([]Option{
		WithTxRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return New(testConfig(), st, opts...)
}

// incident builds a murder incident row; empty strings leave the attribute nil.
func incident(year int, state, race string, count int64) model.Incident {
	return model.Incident{
		Year:          year,
		CrimeType:     "murder",
		State:         model.StrPtr(state),
		Race:          model.StrPtr(race),
		IncidentCount: count,
	}
}

// seedIncidents stores rows under a fresh provenance record.
func seedIncidents(t *testing.T, st store.Store, rows ...model.Incident) {
	t.Helper()
	ctx := context.Background()
	p := &model.Provenance{SourceName: "FBI_UCR", DataType: "murder_statistics", Year: rows[0].Year}
	require.NoError(t, st.CreateProvenance(ctx, p))
	for i := range rows {
		rows[i].SourceID = p.ID
	}
	_, err := st.InsertIncidents(ctx, rows)
	require.NoError(t, err)
}

func seedPopulation(t *testing.T, st store.Store, year int, byState map[string]int64) {
	t.Helper()
	figures := make([]model.PopulationFigure, 0, len(byState))
	for state, pop := range byState {
		figures = append(figures, model.PopulationFigure{Year: year, State: model.StrPtr(state), Population: pop})
	}
	_, err := st.UpsertPopulation(context.Background(), figures)
	require.NoError(t, err)
}

// seedScenario stores the 3-row California/Texas fixture for year.
func seedScenario(t *testing.T, st store.Store, year int) {
	t.Helper()
	seedIncidents(t, st,
		incident(year, "California", "White", 100),
		incident(year, "California", "Black or African American", 50),
		incident(year, "Texas", "White", 80),
	)
	seedPopulation(t, st, year, map[string]int64{"California": 1_000_000, "Texas": 800_000})
}

func findRow(t *testing.T, rows []model.AggregateStat, dt model.DemographicType, value, state string) model.AggregateStat {
	t.Helper()
	for _, r := range rows {
		if r.DemographicType == dt && model.Deref(r.DemographicValue) == value && model.Deref(r.State) == state {
			return r
		}
	}
	require.Failf(t, "aggregate not found", "%s value=%q state=%q", dt, value, state)
	return model.AggregateStat{}
}

func listAll(t *testing.T, st store.Store, year int) []model.AggregateStat {
	t.Helper()
	rows, err := st.ListAggregates(context.Background(), store.AggregateFilter{Year: year, CrimeType: "murder"})
	require.NoError(t, err)
	return rows
}

func noRetry() resilience.RetryConfig { return resilience.RetryConfig{MaxAttempts: 1} }

// config2022 suppresses YoY for 2022 and earlier.
func config2022() config.StatsConfig {
	cfg := testConfig()
	cfg.YoYMinYear = 2022
	return cfg
}
