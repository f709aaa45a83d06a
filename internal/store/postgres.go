package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/db"
	"github.com/sells-group/crime-stats/internal/model"
)

const (
	pgProvenanceTable = "crime_stats.data_sources"
	pgIncidentTable   = "crime_stats.crime_statistics"
	pgPopulationTable = "crime_stats.population_data"
	pgAggregateTable  = "crime_stats.calculated_statistics"
)

var incidentCopyColumns = []string{
	"source_id", "year", "crime_type", "state", "jurisdiction",
	"age_group", "race", "sex", "incident_count", "population", "extra",
}

var populationColumns = []string{"year", "state", "age_group", "race", "sex", "population", "source"}

var populationKey = []string{"year", "state", "age_group", "race", "sex"}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pgRepos
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pgRepos: pgRepos{q: pool}, pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &pgTx{pgRepos: pgRepos{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit tx")
	}
	return nil
}

type pgTx struct {
	pgRepos
}

// LockScope takes a transaction-scoped advisory lock on key.
func (t *pgTx) LockScope(ctx context.Context, key string) error {
	if _, err := t.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return eris.Wrapf(err, "postgres: lock scope %s", key)
	}
	return nil
}

// pgRepos implements every repository over a pool or a transaction.
type pgRepos struct {
	q db.Querier
}

// --- Provenance ---

func (r pgRepos) CreateProvenance(ctx context.Context, p *model.Provenance) error {
	provenanceDefaults(p)
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}
	err = r.q.QueryRow(ctx,
		`INSERT INTO crime_stats.data_sources
			(source_name, source_url, data_type, year, downloaded_at, file_path, file_hash, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		p.SourceName, nullable(p.SourceURL), p.DataType, p.Year, p.DownloadedAt,
		nullable(p.FilePath), nullable(p.FileHash), string(p.Status), meta,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: create provenance %s", p.SourceName)
	}
	return nil
}

func (r pgRepos) GetProvenance(ctx context.Context, id int64) (*model.Provenance, error) {
	row := r.q.QueryRow(ctx, "SELECT "+provenanceColumns+" FROM "+pgProvenanceTable+" WHERE id = $1", id)
	p, err := scanProvenance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: provenance %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get provenance %d", id)
	}
	return p, nil
}

func (r pgRepos) ListProvenance(ctx context.Context, filter ProvenanceFilter) ([]model.Provenance, error) {
	w := provenanceWhere(dollar, filter)
	rows, err := r.q.Query(ctx,
		"SELECT "+provenanceColumns+" FROM "+pgProvenanceTable+w.String()+" ORDER BY id"+limitClause(filter.Limit),
		w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provenance")
	}
	defer rows.Close()

	var out []model.Provenance
	for rows.Next() {
		p, err := scanProvenance(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provenance")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate provenance")
}

func (r pgRepos) MarkProcessed(ctx context.Context, id int64, metadata map[string]any) error {
	return r.setProvenanceStatus(ctx, id, model.ProvenanceProcessed, metadata)
}

func (r pgRepos) MarkFailed(ctx context.Context, id int64, message string, metadata map[string]any) error {
	return r.setProvenanceStatus(ctx, id, model.ProvenanceFailed, mergeError(message, metadata))
}

func (r pgRepos) setProvenanceStatus(ctx context.Context, id int64, status model.ProvenanceStatus, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE crime_stats.data_sources
		 SET status = $1, metadata = metadata || $2::jsonb, updated_at = now()
		 WHERE id = $3`,
		string(status), meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark provenance %d %s", id, status)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: provenance %d", id)
	}
	return nil
}

// --- Incidents ---

func (r pgRepos) InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error) {
	rows := make([][]any, len(incidents))
	for i, inc := range incidents {
		var extra any
		if len(inc.Extra) > 0 {
			extra = inc.Extra
		}
		rows[i] = []any{
			inc.SourceID, inc.Year, inc.CrimeType, inc.State, inc.Jurisdiction,
			inc.AgeGroup, inc.Race, inc.Sex, inc.IncidentCount, inc.Population, extra,
		}
	}
	n, err := db.CopyFrom(ctx, r.q, pgIncidentTable, incidentCopyColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert incidents")
	}
	return n, nil
}

func (r pgRepos) SumIncidents(ctx context.Context, filter IncidentFilter) (int64, error) {
	w := incidentWhere(dollar, filter)
	var total int64
	err := r.q.QueryRow(ctx,
		"SELECT COALESCE(SUM(incident_count), 0) FROM "+pgIncidentTable+w.String(),
		w.args...).Scan(&total)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: sum incidents %d/%s", filter.Year, filter.CrimeType)
	}
	return total, nil
}

func (r pgRepos) GroupIncidents(ctx context.Context, filter IncidentFilter, dim model.Dimension) ([]Group, error) {
	col, err := dimensionColumn(dim)
	if err != nil {
		return nil, err
	}
	w := incidentWhere(dollar, filter).raw(col + " IS NOT NULL")
	rows, err := r.q.Query(ctx,
		"SELECT "+col+", COALESCE(SUM(incident_count), 0) FROM "+pgIncidentTable+w.String()+
			" GROUP BY "+col+" ORDER BY "+col,
		w.args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: group incidents by %s", col)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Value, &g.IncidentCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident group")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate incident groups")
}

func (r pgRepos) CountIncidents(ctx context.Context, filter IncidentFilter) (int64, error) {
	w := incidentWhere(dollar, filter)
	var n int64
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIncidentTable+w.String(), w.args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count incidents")
	}
	return n, nil
}

// --- Aggregates ---

func (r pgRepos) UpsertAggregate(ctx context.Context, a *model.AggregateStat) error {
	if a.CalculatedAt.IsZero() {
		a.CalculatedAt = time.Now().UTC()
	}
	err := r.q.QueryRow(ctx,
		`INSERT INTO crime_stats.calculated_statistics
			(year, crime_type, demographic_type, demographic_value, state,
			 incident_count, population, per_capita_rate, calculated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (year, crime_type, demographic_type, demographic_value, state)
		 DO UPDATE SET incident_count = EXCLUDED.incident_count,
			population = EXCLUDED.population,
			per_capita_rate = EXCLUDED.per_capita_rate,
			calculated_at = EXCLUDED.calculated_at
		 RETURNING id`,
		a.Year, a.CrimeType, string(a.DemographicType), a.DemographicValue, a.State,
		a.IncidentCount, a.Population, a.PerCapitaRate, a.CalculatedAt,
	).Scan(&a.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert aggregate %s", a.AggregateKey)
	}
	return nil
}

func (r pgRepos) FindAggregate(ctx context.Context, key model.AggregateKey) (*model.AggregateStat, error) {
	row := r.q.QueryRow(ctx,
		"SELECT "+aggregateColumns+" FROM "+pgAggregateTable+
			` WHERE year = $1 AND crime_type = $2 AND demographic_type = $3
			   AND demographic_value IS NOT DISTINCT FROM $4 AND state IS NOT DISTINCT FROM $5`,
		key.Year, key.CrimeType, string(key.DemographicType), key.DemographicValue, key.State,
	)
	a, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find aggregate %s", key)
	}
	return a, nil
}

func (r pgRepos) ListAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateStat, error) {
	w := aggregateWhere(dollar, filter)
	rows, err := r.q.Query(ctx,
		"SELECT "+aggregateColumns+" FROM "+pgAggregateTable+w.String()+aggregateOrder+limitClause(filter.Limit),
		w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aggregates")
	}
	defer rows.Close()

	var out []model.AggregateStat
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregate")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate aggregates")
}

func (r pgRepos) SetYoYChange(ctx context.Context, id int64, yoy *float64) error {
	tag, err := r.q.Exec(ctx, "UPDATE crime_stats.calculated_statistics SET yoy_change = $1 WHERE id = $2", yoy, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set yoy change %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: aggregate %d", id)
	}
	return nil
}

func (r pgRepos) DeleteAggregates(ctx context.Context, year int, crimeType string) (int64, error) {
	w := aggregateWhere(dollar, AggregateFilter{Year: year, CrimeType: crimeType})
	tag, err := r.q.Exec(ctx, "DELETE FROM "+pgAggregateTable+w.String(), w.args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete aggregates %d/%s", year, crimeType)
	}
	return tag.RowsAffected(), nil
}

func (r pgRepos) AggregatesExist(ctx context.Context, year int, crimeType string) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+pgAggregateTable+" WHERE year = $1 AND crime_type = $2)",
		year, crimeType).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: aggregates exist %d/%s", year, crimeType)
	}
	return ok, nil
}

func (r pgRepos) ListScopes(ctx context.Context) ([]model.Scope, error) {
	rows, err := r.q.Query(ctx,
		"SELECT DISTINCT year, crime_type FROM "+pgAggregateTable+" ORDER BY year, crime_type")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scopes")
	}
	defer rows.Close()

	var out []model.Scope
	for rows.Next() {
		var s model.Scope
		if err := rows.Scan(&s.Year, &s.CrimeType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scope")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate scopes")
}

// --- Population ---

func (r pgRepos) UpsertPopulation(ctx context.Context, figures []model.PopulationFigure) (int64, error) {
	rows := make([][]any, len(figures))
	for i, f := range figures {
		rows[i] = []any{f.Year, f.State, f.AgeGroup, f.Race, f.Sex, f.Population, nullable(f.Source)}
	}
	n, err := db.BulkUpsert(ctx, r.q, db.UpsertConfig{
		Table:        pgPopulationTable,
		Columns:      populationColumns,
		ConflictKeys: populationKey,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert population")
	}
	return n, nil
}

func (r pgRepos) SumPopulation(ctx context.Context, q model.PopulationQuery) (*int64, error) {
	w := populationWhere(dollar, q)
	var n, total int64
	err := r.q.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(population), 0) FROM "+pgPopulationTable+w.String(),
		w.args...).Scan(&n, &total)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: sum population %d", q.Year)
	}
	if n == 0 {
		return nil, nil
	}
	return &total, nil
}

func (r pgRepos) PopulationExists(ctx context.Context, year int, state string) (bool, error) {
	w := populationWhere(dollar, model.PopulationQuery{Year: year, State: state})
	var ok bool
	if err := r.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+pgPopulationTable+w.String()+")", w.args...).Scan(&ok); err != nil {
		return false, eris.Wrapf(err, "postgres: population exists %d", year)
	}
	return ok, nil
}

func (r pgRepos) DeletePopulation(ctx context.Context, year int, state string) (int64, error) {
	w := populationWhere(dollar, model.PopulationQuery{Year: year, State: state})
	tag, err := r.q.Exec(ctx, "DELETE FROM "+pgPopulationTable+w.String(), w.args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete population %d", year)
	}
	return tag.RowsAffected(), nil
}
