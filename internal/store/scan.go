package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/model"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const provenanceColumns = "id, source_name, source_url, data_type, year, downloaded_at, file_path, file_hash, status, metadata, created_at, updated_at"

func scanProvenance(row scanner) (*model.Provenance, error) {
	var (
		p                     model.Provenance
		sourceURL, path, hash *string
		stat                  string
		meta                  []byte
	)
	if err := row.Scan(&p.ID, &p.SourceName, &sourceURL, &p.DataType, &p.Year, &p.DownloadedAt,
		&path, &hash, &stat, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SourceURL = model.Deref(sourceURL)
	p.FilePath = model.Deref(path)
	p.FileHash = model.Deref(hash)
	p.Status = model.ProvenanceStatus(stat)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal metadata for provenance %d", p.ID)
		}
	}
	return &p, nil
}

const aggregateColumns = "id, year, crime_type, demographic_type, demographic_value, state, incident_count, population, per_capita_rate, yoy_change, calculated_at"

func scanAggregate(row scanner) (*model.AggregateStat, error) {
	var (
		a  model.AggregateStat
		dt string
	)
	if err := row.Scan(&a.ID, &a.Year, &a.CrimeType, &dt, &a.DemographicValue, &a.State,
		&a.IncidentCount, &a.Population, &a.PerCapitaRate, &a.YoYChange, &a.CalculatedAt); err != nil {
		return nil, err
	}
	a.DemographicType = model.DemographicType(dt)
	return &a, nil
}

// provenanceDefaults fills status and timestamps before insert.
func provenanceDefaults(p *model.Provenance) {
	if p.Status == "" {
		p.Status = model.ProvenanceDownloaded
	}
	if p.DownloadedAt.IsZero() {
		p.DownloadedAt = time.Now().UTC()
	}
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal metadata")
	}
	return b, nil
}

// nullable returns nil for empty strings so optional text columns stay NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
