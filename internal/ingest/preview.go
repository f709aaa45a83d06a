package ingest

import (
	"context"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/fetcher"
)

// PreviewResult shows how a file would be mapped, without normalizing or
// writing anything.
type PreviewResult struct {
	Path           string              `json:"path" yaml:"path"`
	TotalRows      int                 `json:"total_rows" yaml:"total_rows"`
	Columns        []string            `json:"columns" yaml:"columns"`
	Encoding       string              `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	DetectedFields map[string]*string  `json:"detected_fields" yaml:"detected_fields"`
	Rows           []map[string]string `json:"preview" yaml:"preview"`
	// SchemaError is set when the file would fail schema validation.
	SchemaError string `json:"schema_error,omitempty" yaml:"schema_error,omitempty"`
}

// Preview reads path and reports its row count, columns, field mapping and
// first rows (cfg.PreviewRows when rows <= 0).
func Preview(ctx context.Context, cfg config.IngestConfig, path string, rows int) (*PreviewResult, error) {
	if rows <= 0 {
		rows = cfg.PreviewRows
	}

	tbl, err := fetcher.ReadTable(ctx, path, tableOptions(cfg, 0))
	if err != nil {
		return nil, err
	}
	if len(tbl.Header) == 0 || len(tbl.Rows) == 0 {
		return nil, &EmptyInputError{Path: path}
	}

	mapping := DetectFields(tbl.Header)
	res := &PreviewResult{
		Path:           path,
		TotalRows:      len(tbl.Rows),
		Columns:        tbl.Header,
		Encoding:       tbl.Encoding,
		DetectedFields: mapping.Detected(),
	}
	if err := mapping.Validate(); err != nil {
		res.SchemaError = err.Error()
	}

	for _, row := range tbl.Rows[:min(rows, len(tbl.Rows))] {
		rec := make(map[string]string, len(tbl.Header))
		for i, h := range tbl.Header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		res.Rows = append(res.Rows, rec)
	}
	return res, nil
}
