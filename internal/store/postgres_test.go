package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock), mock
}

// metadataArg matches a JSON-encoded metadata argument containing key=value.
type metadataArg struct {
	key   string
	value any
}

func (m metadataArg) Match(v any) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		return false
	}
	return got[m.key] == m.value
}

func TestPostgresStore_CreateProvenance(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO crime_stats.data_sources`).
		WithArgs("fbi_ucr", nil, "crime_csv", 2022, pgxmock.AnyArg(), "/data/murder.csv", nil, "downloaded", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	p := &model.Provenance{SourceName: "fbi_ucr", DataType: "crime_csv", Year: 2022, FilePath: "/data/murder.csv"}
	require.NoError(t, s.CreateProvenance(context.Background(), p))

	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, model.ProvenanceDownloaded, p.Status)
	assert.False(t, p.DownloadedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProvenance_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source_name, .* FROM crime_stats.data_sources WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProvenance(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkProcessed_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE crime_stats.data_sources`).
		WithArgs("processed", pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkProcessed(context.Background(), 3, map[string]any{"run_id": "abc"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFailed_MergesError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE crime_stats.data_sources`).
		WithArgs("failed", metadataArg{key: "error", value: "bad header"}, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkFailed(context.Background(), 3, "bad header", map[string]any{"run_id": "abc"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertIncidents_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"crime_stats", "crime_statistics"}, incidentCopyColumns).WillReturnResult(2)

	n, err := s.InsertIncidents(context.Background(), []model.Incident{
		{SourceID: 1, Year: 2022, CrimeType: "murder", State: model.StrPtr("Texas"), IncidentCount: 50},
		{SourceID: 1, Year: 2022, CrimeType: "murder", State: model.StrPtr("Ohio"), IncidentCount: 5,
			Extra: map[string]any{"county": "Franklin"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SumIncidents_StateFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(incident_count\), 0\) FROM crime_stats.crime_statistics WHERE year = \$1 AND crime_type = \$2 AND state IN \(\$3, \$4\)`).
		WithArgs(2022, "murder", "California", "Texas").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(230)))

	total, err := s.SumIncidents(context.Background(), IncidentFilter{
		Year: 2022, CrimeType: "murder", States: []string{"California", "Texas"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(230), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GroupIncidents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT race, COALESCE\(SUM\(incident_count\), 0\) FROM crime_stats.crime_statistics WHERE year = \$1 AND crime_type = \$2 AND race IS NOT NULL GROUP BY race ORDER BY race`).
		WithArgs(2022, "murder").
		WillReturnRows(pgxmock.NewRows([]string{"race", "sum"}).
			AddRow("Black or African American", int64(80)).
			AddRow("White", int64(150)))

	groups, err := s.GroupIncidents(context.Background(), IncidentFilter{Year: 2022, CrimeType: "murder"}, model.DimensionRace)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, Group{Value: "White", IncidentCount: 150}, groups[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GroupIncidents_UnknownDimension(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.GroupIncidents(context.Background(), IncidentFilter{Year: 2022}, model.Dimension("county; DROP TABLE x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dimension")
}

func TestPostgresStore_UpsertAggregate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rate := 23.0
	pop := int64(1000000)
	mock.ExpectQuery(`(?s)INSERT INTO crime_stats.calculated_statistics.*ON CONFLICT \(year, crime_type, demographic_type, demographic_value, state\).*RETURNING id`).
		WithArgs(2022, "murder", "by_state", (*string)(nil), model.StrPtr("California"),
			int64(230), &pop, &rate, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	a := &model.AggregateStat{
		AggregateKey: model.AggregateKey{
			Year: 2022, CrimeType: "murder", DemographicType: model.DemographicByState, State: model.StrPtr("California"),
		},
		IncidentCount: 230, Population: &pop, PerCapitaRate: &rate,
	}
	require.NoError(t, s.UpsertAggregate(context.Background(), a))
	assert.Equal(t, int64(11), a.ID)
	assert.False(t, a.CalculatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindAggregate_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, year, .* FROM crime_stats.calculated_statistics`).
		WillReturnError(pgx.ErrNoRows)

	a, err := s.FindAggregate(context.Background(), model.AggregateKey{Year: 2021, CrimeType: "murder", DemographicType: model.DemographicTotal})
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetYoYChange(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	yoy := -12.5
	mock.ExpectExec(`UPDATE crime_stats.calculated_statistics SET yoy_change = \$1 WHERE id = \$2`).
		WithArgs(&yoy, int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE crime_stats.calculated_statistics SET yoy_change`).
		WithArgs((*float64)(nil), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetYoYChange(context.Background(), 4, &yoy))
	err := s.SetYoYChange(context.Background(), 5, nil)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAggregates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM crime_stats.calculated_statistics WHERE year = \$1 AND crime_type = \$2`).
		WithArgs(2022, "murder").
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`DELETE FROM crime_stats.calculated_statistics WHERE year = \$1$`).
		WithArgs(2021).
		WillReturnResult(pgxmock.NewResult("DELETE", 30))

	n, err := s.DeleteAggregates(context.Background(), 2022, "murder")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = s.DeleteAggregates(context.Background(), 2021, "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AggregatesExist(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM crime_stats.calculated_statistics`).
		WithArgs(2022, "murder").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.AggregatesExist(context.Background(), 2022, "murder")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SumPopulation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(population\), 0\) FROM crime_stats.population_data WHERE year = \$1 AND state = \$2 AND race = \$3`).
		WithArgs(2022, "Texas", "White").
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(int64(2), int64(480000)))
	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(population\), 0\) FROM crime_stats.population_data WHERE year = \$1$`).
		WithArgs(1850).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(int64(0), int64(0)))

	pop, err := s.SumPopulation(context.Background(), model.PopulationQuery{Year: 2022, State: "Texas", Race: "White"})
	require.NoError(t, err)
	require.NotNil(t, pop)
	assert.Equal(t, int64(480000), *pop)

	pop, err = s.SumPopulation(context.Background(), model.PopulationQuery{Year: 1850})
	require.NoError(t, err)
	assert.Nil(t, pop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPopulation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_crime_stats_population_data"}, populationColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "crime_stats"."population_data"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertPopulation(context.Background(), []model.PopulationFigure{
		{Year: 2022, State: model.StrPtr("Texas"), Population: 800000, Source: "csv"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_CommitAndLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("aggregate:2022:murder").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM crime_stats.calculated_statistics`).
		WithArgs(2022, "murder").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.LockScope(ctx, model.Scope{Year: 2022, CrimeType: "murder"}.LockKey()); err != nil {
			return err
		}
		_, err := tx.DeleteAggregates(ctx, 2022, "murder")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(context.Context, Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
