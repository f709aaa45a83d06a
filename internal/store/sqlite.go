package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register driver

	"github.com/sells-group/crime-stats/internal/model"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Tx    = (*sqliteTx)(nil)
)

// sqlitePragmas apply to every pooled connection.
var sqlitePragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=foreign_keys(1)",
	"_txlock=immediate",
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	sqliteRepos
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite", dsn+sep+strings.Join(sqlitePragmas, "&"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{sqliteRepos: sqliteRepos{q: conn, db: conn}}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS data_sources (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source_name   TEXT NOT NULL,
	source_url    TEXT,
	data_type     TEXT NOT NULL,
	year          INTEGER NOT NULL,
	downloaded_at DATETIME NOT NULL,
	file_path     TEXT,
	file_hash     TEXT,
	status        TEXT NOT NULL DEFAULT 'downloaded',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_data_sources_status ON data_sources(status);

CREATE TABLE IF NOT EXISTS crime_statistics (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id      INTEGER NOT NULL REFERENCES data_sources(id) ON DELETE CASCADE,
	year           INTEGER NOT NULL,
	crime_type     TEXT NOT NULL,
	state          TEXT,
	jurisdiction   TEXT,
	age_group      TEXT,
	race           TEXT,
	sex            TEXT,
	incident_count INTEGER NOT NULL CHECK (incident_count >= 0),
	population     INTEGER,
	extra          TEXT,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crime_statistics_scope ON crime_statistics(year, crime_type, state);

CREATE TABLE IF NOT EXISTS population_data (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	year       INTEGER NOT NULL,
	state      TEXT,
	age_group  TEXT,
	race       TEXT,
	sex        TEXT,
	population INTEGER NOT NULL CHECK (population >= 0),
	source     TEXT,
	created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_population_key ON population_data(
	year, COALESCE(state, ''), COALESCE(age_group, ''), COALESCE(race, ''), COALESCE(sex, ''));

CREATE TABLE IF NOT EXISTS calculated_statistics (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	year              INTEGER NOT NULL,
	crime_type        TEXT NOT NULL,
	demographic_type  TEXT NOT NULL,
	demographic_value TEXT,
	state             TEXT,
	incident_count    INTEGER NOT NULL CHECK (incident_count >= 0),
	population        INTEGER,
	per_capita_rate   REAL,
	yoy_change        REAL,
	calculated_at     DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_calculated_statistics_key ON calculated_statistics(
	year, crime_type, demographic_type, COALESCE(demographic_value, ''), COALESCE(state, ''));
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, &sqliteTx{sqliteRepos: sqliteRepos{q: tx}}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

type sqliteTx struct {
	sqliteRepos
}

// LockScope is a no-op: SQLite already serializes writers.
func (t *sqliteTx) LockScope(context.Context, string) error { return nil }

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteRepos struct {
	q  sqlQuerier
	db *sql.DB // nil inside a transaction
}

// atomic runs fn in its own transaction unless r is already transactional.
func (r sqliteRepos) atomic(ctx context.Context, fn func(q sqlQuerier) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Provenance ---

func (r sqliteRepos) CreateProvenance(ctx context.Context, p *model.Provenance) error {
	provenanceDefaults(p)
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO data_sources
			(source_name, source_url, data_type, year, downloaded_at, file_path, file_hash, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SourceName, nullable(p.SourceURL), p.DataType, p.Year, p.DownloadedAt,
		nullable(p.FilePath), nullable(p.FileHash), string(p.Status), string(meta), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create provenance %s", p.SourceName)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: provenance id")
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (r sqliteRepos) GetProvenance(ctx context.Context, id int64) (*model.Provenance, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+provenanceColumns+" FROM data_sources WHERE id = ?", id)
	p, err := scanProvenance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: provenance %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get provenance %d", id)
	}
	return p, nil
}

func (r sqliteRepos) ListProvenance(ctx context.Context, filter ProvenanceFilter) ([]model.Provenance, error) {
	w := provenanceWhere(question, filter)
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+provenanceColumns+" FROM data_sources"+w.String()+" ORDER BY id"+limitClause(filter.Limit),
		w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provenance")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Provenance
	for rows.Next() {
		p, err := scanProvenance(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate provenance")
}

func (r sqliteRepos) MarkProcessed(ctx context.Context, id int64, metadata map[string]any) error {
	return r.setProvenanceStatus(ctx, id, model.ProvenanceProcessed, metadata)
}

func (r sqliteRepos) MarkFailed(ctx context.Context, id int64, message string, metadata map[string]any) error {
	return r.setProvenanceStatus(ctx, id, model.ProvenanceFailed, mergeError(message, metadata))
}

func (r sqliteRepos) setProvenanceStatus(ctx context.Context, id int64, status model.ProvenanceStatus, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE data_sources SET status = ?, metadata = json_patch(metadata, ?), updated_at = ? WHERE id = ?`,
		string(status), string(meta), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark provenance %d %s", id, status)
	}
	return checkRowsAffected(res, "provenance", id)
}

// --- Incidents ---

func (r sqliteRepos) InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error) {
	if len(incidents) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	err := r.atomic(ctx, func(q sqlQuerier) error {
		for _, inc := range incidents {
			var extra any
			if len(inc.Extra) > 0 {
				b, err := json.Marshal(inc.Extra)
				if err != nil {
					return eris.Wrap(err, "sqlite: marshal extra")
				}
				extra = string(b)
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO crime_statistics
					(source_id, year, crime_type, state, jurisdiction, age_group, race, sex,
					 incident_count, population, extra, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				inc.SourceID, inc.Year, inc.CrimeType, inc.State, inc.Jurisdiction, inc.AgeGroup,
				inc.Race, inc.Sex, inc.IncidentCount, inc.Population, extra, now,
			); err != nil {
				return eris.Wrap(err, "sqlite: insert incident")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(incidents)), nil
}

func (r sqliteRepos) SumIncidents(ctx context.Context, filter IncidentFilter) (int64, error) {
	w := incidentWhere(question, filter)
	var total int64
	err := r.q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(incident_count), 0) FROM crime_statistics"+w.String(), w.args...).Scan(&total)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: sum incidents %d/%s", filter.Year, filter.CrimeType)
	}
	return total, nil
}

func (r sqliteRepos) GroupIncidents(ctx context.Context, filter IncidentFilter, dim model.Dimension) ([]Group, error) {
	col, err := dimensionColumn(dim)
	if err != nil {
		return nil, err
	}
	w := incidentWhere(question, filter).raw(col + " IS NOT NULL")
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+col+", COALESCE(SUM(incident_count), 0) FROM crime_statistics"+w.String()+
			" GROUP BY "+col+" ORDER BY "+col,
		w.args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: group incidents by %s", col)
	}
	defer rows.Close() //nolint:errcheck

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Value, &g.IncidentCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident group")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate incident groups")
}

func (r sqliteRepos) CountIncidents(ctx context.Context, filter IncidentFilter) (int64, error) {
	w := incidentWhere(question, filter)
	var n int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM crime_statistics"+w.String(), w.args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count incidents")
	}
	return n, nil
}

// --- Aggregates ---

func (r sqliteRepos) UpsertAggregate(ctx context.Context, a *model.AggregateStat) error {
	if a.CalculatedAt.IsZero() {
		a.CalculatedAt = time.Now().UTC()
	}
	return r.atomic(ctx, func(q sqlQuerier) error {
		err := q.QueryRowContext(ctx,
			`UPDATE calculated_statistics
			 SET incident_count = ?, population = ?, per_capita_rate = ?, calculated_at = ?
			 WHERE year = ? AND crime_type = ? AND demographic_type = ?
			   AND demographic_value IS ? AND state IS ?
			 RETURNING id`,
			a.IncidentCount, a.Population, a.PerCapitaRate, a.CalculatedAt,
			a.Year, a.CrimeType, string(a.DemographicType), a.DemographicValue, a.State,
		).Scan(&a.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(err, "sqlite: update aggregate %s", a.AggregateKey)
		}
		err = q.QueryRowContext(ctx,
			`INSERT INTO calculated_statistics
				(year, crime_type, demographic_type, demographic_value, state,
				 incident_count, population, per_capita_rate, calculated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING id`,
			a.Year, a.CrimeType, string(a.DemographicType), a.DemographicValue, a.State,
			a.IncidentCount, a.Population, a.PerCapitaRate, a.CalculatedAt,
		).Scan(&a.ID)
		return eris.Wrapf(err, "sqlite: insert aggregate %s", a.AggregateKey)
	})
}

func (r sqliteRepos) FindAggregate(ctx context.Context, key model.AggregateKey) (*model.AggregateStat, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+aggregateColumns+` FROM calculated_statistics
		 WHERE year = ? AND crime_type = ? AND demographic_type = ?
		   AND demographic_value IS ? AND state IS ?`,
		key.Year, key.CrimeType, string(key.DemographicType), key.DemographicValue, key.State,
	)
	a, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find aggregate %s", key)
	}
	return a, nil
}

func (r sqliteRepos) ListAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateStat, error) {
	w := aggregateWhere(question, filter)
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+aggregateColumns+" FROM calculated_statistics"+w.String()+aggregateOrder+limitClause(filter.Limit),
		w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aggregates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AggregateStat
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregate")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate aggregates")
}

func (r sqliteRepos) SetYoYChange(ctx context.Context, id int64, yoy *float64) error {
	res, err := r.q.ExecContext(ctx, "UPDATE calculated_statistics SET yoy_change = ? WHERE id = ?", yoy, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set yoy change %d", id)
	}
	return checkRowsAffected(res, "aggregate", id)
}

func (r sqliteRepos) DeleteAggregates(ctx context.Context, year int, crimeType string) (int64, error) {
	w := aggregateWhere(question, AggregateFilter{Year: year, CrimeType: crimeType})
	res, err := r.q.ExecContext(ctx, "DELETE FROM calculated_statistics"+w.String(), w.args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete aggregates %d/%s", year, crimeType)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (r sqliteRepos) AggregatesExist(ctx context.Context, year int, crimeType string) (bool, error) {
	var ok bool
	err := r.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM calculated_statistics WHERE year = ? AND crime_type = ?)",
		year, crimeType).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: aggregates exist %d/%s", year, crimeType)
	}
	return ok, nil
}

func (r sqliteRepos) ListScopes(ctx context.Context) ([]model.Scope, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT DISTINCT year, crime_type FROM calculated_statistics ORDER BY year, crime_type")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scopes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Scope
	for rows.Next() {
		var s model.Scope
		if err := rows.Scan(&s.Year, &s.CrimeType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scope")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate scopes")
}

// --- Population ---

func (r sqliteRepos) UpsertPopulation(ctx context.Context, figures []model.PopulationFigure) (int64, error) {
	if len(figures) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	var n int64
	err := r.atomic(ctx, func(q sqlQuerier) error {
		for _, f := range figures {
			res, err := q.ExecContext(ctx,
				`UPDATE population_data SET population = ?, source = ?
				 WHERE year = ? AND state IS ? AND age_group IS ? AND race IS ? AND sex IS ?`,
				f.Population, nullable(f.Source), f.Year, f.State, f.AgeGroup, f.Race, f.Sex,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: update population")
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				n += affected
				continue
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO population_data (year, state, age_group, race, sex, population, source, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				f.Year, f.State, f.AgeGroup, f.Race, f.Sex, f.Population, nullable(f.Source), now,
			); err != nil {
				return eris.Wrap(err, "sqlite: insert population")
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r sqliteRepos) SumPopulation(ctx context.Context, q model.PopulationQuery) (*int64, error) {
	w := populationWhere(question, q)
	var n, total int64
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(population), 0) FROM population_data"+w.String(),
		w.args...).Scan(&n, &total)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: sum population %d", q.Year)
	}
	if n == 0 {
		return nil, nil
	}
	return &total, nil
}

func (r sqliteRepos) PopulationExists(ctx context.Context, year int, state string) (bool, error) {
	w := populationWhere(question, model.PopulationQuery{Year: year, State: state})
	var ok bool
	if err := r.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM population_data"+w.String()+")", w.args...).Scan(&ok); err != nil {
		return false, eris.Wrapf(err, "sqlite: population exists %d", year)
	}
	return ok, nil
}

func (r sqliteRepos) DeletePopulation(ctx context.Context, year int, state string) (int64, error) {
	w := populationWhere(question, model.PopulationQuery{Year: year, State: state})
	res, err := r.q.ExecContext(ctx, "DELETE FROM population_data"+w.String(), w.args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete population %d", year)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %d", entity, id)
	}
	return nil
}
