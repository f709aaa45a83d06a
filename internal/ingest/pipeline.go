// Package ingest turns raw incident extracts into normalized incident rows:
// schema detection, demographic normalization, quality checks, batched
// inserts and provenance bookkeeping.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/metrics"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

// Status is the outcome of one Ingest call.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusAlreadyProcessed Status = "already_processed"
	StatusFailed           Status = "failed"
)

// Result describes one ingestion run.
type Result struct {
	ProvenanceID int64            `json:"provenance_id" yaml:"provenance_id"`
	RunID        string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status       Status           `json:"status" yaml:"status"`
	RowsInserted int64            `json:"rows_inserted" yaml:"rows_inserted"`
	SourceRows   int              `json:"source_rows" yaml:"source_rows"`
	Encoding     string           `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	FieldMapping map[Field]string `json:"field_mapping,omitempty" yaml:"field_mapping,omitempty"`
	Quality      QualityReport    `json:"quality_report" yaml:"quality_report"`
	Elapsed      time.Duration    `json:"elapsed" yaml:"elapsed"`
}

// Pipeline ingests provenance records into incident rows.
type Pipeline struct {
	cfg     config.IngestConfig
	store   store.Store
	metrics *metrics.Metrics
	txRetry resilience.RetryConfig
	log     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTxRetry overrides the retry policy for the insert transaction.
func WithTxRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.txRetry = cfg }
}

// New creates a Pipeline.
func New(cfg config.IngestConfig, st store.Store, opts ...Option) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   st,
		txRetry: resilience.TxRetryConfig(),
		log:     zap.L().With(zap.String("component", "ingest")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ingest loads the file behind provenance id, normalizes it and inserts the
// rows in one transaction. A provenance already processed is a no-op. Any
// other failure is recorded on the provenance row and returned as an
// *IngestionError.
func (p *Pipeline) Ingest(ctx context.Context, id int64, crimeType string) (*Result, error) {
	if crimeType == "" {
		crimeType = p.cfg.DefaultCrimeType
	}
	log := p.log.With(zap.Int64("provenance_id", id), zap.String("crime_type", crimeType))

	prov, err := p.store.GetProvenance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrProvenanceNotFound, "ingest: provenance %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: load provenance %d", id)
	}

	if prov.Status == model.ProvenanceProcessed {
		log.Warn("ingest: provenance already processed")
		p.metrics.ObserveIngest(string(StatusAlreadyProcessed), 0, 0, 0)
		return &Result{ProvenanceID: id, Status: StatusAlreadyProcessed}, nil
	}

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))
	log.Info("ingest: starting", zap.String("file", prov.FilePath))

	start := time.Now()
	res, err := p.run(ctx, prov, crimeType, runID, log)
	elapsed := time.Since(start)

	if err != nil {
		// The insert transaction has already rolled back; record the failure
		// even if ctx was cancelled.
		markCtx := context.WithoutCancel(ctx)
		if markErr := p.store.MarkFailed(markCtx, id, err.Error(), map[string]any{"run_id": runID}); markErr != nil {
			log.Error("ingest: failed to record failure", zap.Error(markErr))
		}
		p.metrics.ObserveIngest(string(StatusFailed), 0, 0, elapsed)
		log.Error("ingest: run failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, &IngestionError{ProvenanceID: id, RunID: runID, Err: err}
	}

	res.Elapsed = elapsed
	p.metrics.ObserveIngest(string(StatusSuccess), res.RowsInserted, int64(res.Quality.DroppedRows), elapsed)
	log.Info("ingest: complete",
		zap.Int64("rows", res.RowsInserted),
		zap.Int("source_rows", res.SourceRows),
		zap.Int("dropped_rows", res.Quality.DroppedRows),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, prov *model.Provenance, crimeType, runID string, log *zap.Logger) (*Result, error) {
	if prov.FilePath == "" {
		return nil, eris.Errorf("ingest: provenance %d has no file_path", prov.ID)
	}

	tbl, err := fetcher.ReadTable(ctx, prov.FilePath, tableOptions(p.cfg, 0))
	if err != nil {
		return nil, err
	}
	if len(tbl.Header) == 0 || len(tbl.Rows) == 0 {
		return nil, &EmptyInputError{Path: prov.FilePath}
	}
	log.Debug("ingest: read file", zap.Int("rows", len(tbl.Rows)), zap.String("encoding", tbl.Encoding))

	mapping := DetectFields(tbl.Header)
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	incidents := make([]model.Incident, 0, len(tbl.Rows))
	dropped := 0
	for _, row := range tbl.Rows {
		inc, ok := normalizeRow(mapping, tbl.Header, row, crimeType, p.cfg.KeepExtraColumns)
		if !ok {
			dropped++
			continue
		}
		inc.SourceID = prov.ID
		incidents = append(incidents, inc)
	}

	report := CheckQuality(incidents, mapping)
	report.DroppedRows = dropped
	if !report.Empty() {
		log.Warn("ingest: data quality issues", zap.Any("issues", report.Issues()))
	}
	report.NegativeCountsCorrected = clampNegatives(incidents)

	res := &Result{
		ProvenanceID: prov.ID,
		RunID:        runID,
		Status:       StatusSuccess,
		SourceRows:   len(tbl.Rows),
		Encoding:     tbl.Encoding,
		FieldMapping: mapping.Columns,
		Quality:      report,
	}

	err = resilience.Do(ctx, p.txRetry, func(ctx context.Context) error {
		return p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var inserted int64
			for start := 0; start < len(incidents); start += p.cfg.BatchSize {
				end := min(start+p.cfg.BatchSize, len(incidents))
				n, err := tx.InsertIncidents(ctx, incidents[start:end])
				if err != nil {
					return eris.Wrapf(err, "ingest: insert batch %d-%d", start, end)
				}
				inserted += n
				log.Debug("ingest: inserted batch", zap.Int("start", start), zap.Int("end", end), zap.Int64("rows", n))
			}
			res.RowsInserted = inserted

			return tx.MarkProcessed(ctx, prov.ID, map[string]any{
				"run_id":        runID,
				"encoding":      tbl.Encoding,
				"field_mapping": mapping.Columns,
				"processing_stats": map[string]any{
					"records_inserted": inserted,
					"quality_issues":   report.Issues(),
				},
			})
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: write incidents")
	}
	return res, nil
}

// BatchFailure is one provenance record IngestPending could not ingest.
type BatchFailure struct {
	ProvenanceID int64  `json:"provenance_id" yaml:"provenance_id"`
	Error        string `json:"error" yaml:"error"`
}

// BatchResult collects the outcome of IngestPending.
type BatchResult struct {
	Results  []*Result      `json:"results" yaml:"results"`
	Failures []BatchFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// IngestPending ingests every provenance record in downloaded or failed
// status, cfg.Concurrency at a time. A failed record does not stop the batch.
func (p *Pipeline) IngestPending(ctx context.Context, crimeType string) (*BatchResult, error) {
	pending, err := p.store.ListProvenance(ctx, store.ProvenanceFilter{
		Statuses: []model.ProvenanceStatus{model.ProvenanceDownloaded, model.ProvenanceFailed},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list pending provenance")
	}
	p.log.Info("ingest: pending records", zap.Int("count", len(pending)))

	var (
		mu  sync.Mutex
		out BatchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, prov := range pending {
		g.Go(func() error {
			res, err := p.Ingest(gctx, prov.ID, crimeType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures = append(out.Failures, BatchFailure{ProvenanceID: prov.ID, Error: err.Error()})
				return nil
			}
			out.Results = append(out.Results, res)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(out.Results, func(a, b *Result) int { return cmp.Compare(a.ProvenanceID, b.ProvenanceID) })
	slices.SortFunc(out.Failures, func(a, b BatchFailure) int { return cmp.Compare(a.ProvenanceID, b.ProvenanceID) })
	return &out, ctx.Err()
}

// TableOptions returns the reader settings ingestion uses for cfg, so other
// file readers decode the same way.
func TableOptions(cfg config.IngestConfig) fetcher.TableOptions {
	return tableOptions(cfg, 0)
}

func tableOptions(cfg config.IngestConfig, maxRows int) fetcher.TableOptions {
	opts := fetcher.TableOptions{Encodings: cfg.Encodings, MaxRows: maxRows}
	switch cfg.Delimiter {
	case "", ",":
	case `\t`, "tab":
		opts.Delimiter = '\t'
	default:
		opts.Delimiter = []rune(cfg.Delimiter)[0]
	}
	return opts
}
