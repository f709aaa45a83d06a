package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

// ScopeOutcome is the result of one scope within a batch.
type ScopeOutcome struct {
	Year              int    `json:"year" yaml:"year"`
	CrimeType         string `json:"crime_type" yaml:"crime_type"`
	Status            string `json:"status" yaml:"status"`
	RecordsCalculated int    `json:"records_calculated" yaml:"records_calculated"`
	Error             string `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchResult summarizes CalculateRange and RecalculateAll.
type BatchResult struct {
	Total      int            `json:"total" yaml:"total"`
	Successful int            `json:"successful" yaml:"successful"`
	Failed     int            `json:"failed" yaml:"failed"`
	Results    []ScopeOutcome `json:"results" yaml:"results"`
	Elapsed    time.Duration  `json:"elapsed" yaml:"elapsed"`
}

func (b *BatchResult) record(scope model.Scope, res *Result, err error) {
	out := ScopeOutcome{Year: scope.Year, CrimeType: scope.CrimeType, Status: StatusSuccess}
	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		b.Failed++
	} else {
		out.RecordsCalculated = res.TotalRecords
		b.Successful++
	}
	b.Total++
	b.Results = append(b.Results, out)
}

// CalculateRange runs each year from start to end inclusive, oldest first,
// so every year's YoY change sees the year before it. A failing year is
// recorded and does not stop the range.
func (e *Engine) CalculateRange(ctx context.Context, start, end int, crimeType string) (*BatchResult, error) {
	if start > end {
		return nil, eris.Wrapf(ErrInvalidScope, "stats: start year %d after end year %d", start, end)
	}
	if err := validateScope(start, crimeType); err != nil {
		return nil, err
	}
	if err := validateScope(end, crimeType); err != nil {
		return nil, err
	}

	began := time.Now()
	batch := &BatchResult{}
	for year := start; year <= end; year++ {
		if err := ctx.Err(); err != nil {
			return batch, eris.Wrap(err, "stats: range cancelled")
		}
		scope := model.Scope{Year: year, CrimeType: crimeType}
		res, err := e.Run(ctx, year, crimeType, nil)
		batch.record(scope, res, err)
	}
	batch.Elapsed = time.Since(began)

	e.log.Info("stats: range complete",
		zap.Int("start_year", start),
		zap.Int("end_year", end),
		zap.String("crime_type", crimeType),
		zap.Int("successful", batch.Successful),
		zap.Int("total", batch.Total),
	)
	return batch, nil
}

// RecalculateAll recalculates every (year, crime_type) that has aggregates.
// Scopes run oldest first; per-scope failures are collected.
func (e *Engine) RecalculateAll(ctx context.Context) (*BatchResult, error) {
	scopes, err := e.store.ListScopes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "stats: list scopes")
	}

	began := time.Now()
	batch := &BatchResult{}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return batch, eris.Wrap(err, "stats: recalculate all cancelled")
		}
		res, err := e.Recalculate(ctx, scope.Year, scope.CrimeType)
		batch.record(scope, res, err)
	}
	batch.Elapsed = time.Since(began)

	e.log.Info("stats: recalculate all complete",
		zap.Int("successful", batch.Successful),
		zap.Int("total", batch.Total),
	)
	return batch, nil
}

// Query returns aggregate rows for one scope. Year and crime type are
// required; no matching rows is a *StatisticsError.
func (e *Engine) Query(ctx context.Context, filter store.AggregateFilter) ([]model.AggregateStat, error) {
	if err := validateScope(filter.Year, filter.CrimeType); err != nil {
		return nil, err
	}
	rows, err := e.store.ListAggregates(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "stats: query aggregates")
	}
	if len(rows) == 0 {
		return nil, &StatisticsError{
			Year:            filter.Year,
			CrimeType:       filter.CrimeType,
			DemographicType: filter.DemographicType,
			State:           filter.State,
		}
	}
	return rows, nil
}
