// Package stats computes the pre-aggregated query table: per-capita rates
// and year-over-year changes for every (year, crime_type) scope, broken out
// as a national total and by race, age group, sex and state.
package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/metrics"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/population"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

// Run modes, recorded on Result and as a metric label.
const (
	ModeCalculate   = "calculate"
	ModeRecalculate = "recalculate"
)

// Status values for Result and ScopeOutcome.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Valid year bounds for a scope.
const (
	MinYear = 1900
	MaxYear = 2100
)

// Breakdowns counts aggregate rows written per demographic type.
type Breakdowns struct {
	Total   int `json:"total" yaml:"total"`
	ByRace  int `json:"by_race" yaml:"by_race"`
	ByAge   int `json:"by_age" yaml:"by_age"`
	BySex   int `json:"by_sex" yaml:"by_sex"`
	ByState int `json:"by_state" yaml:"by_state"`
}

func (b *Breakdowns) add(dt model.DemographicType, n int) {
	switch dt {
	case model.DemographicTotal:
		b.Total += n
	case model.DemographicByRace:
		b.ByRace += n
	case model.DemographicByAge:
		b.ByAge += n
	case model.DemographicBySex:
		b.BySex += n
	case model.DemographicByState:
		b.ByState += n
	}
}

func (b Breakdowns) sum() int {
	return b.Total + b.ByRace + b.ByAge + b.BySex + b.ByState
}

// Result describes one calculate or recalculate run.
type Result struct {
	Status         string        `json:"status" yaml:"status"`
	Mode           string        `json:"mode" yaml:"mode"`
	Year           int           `json:"year" yaml:"year"`
	CrimeType      string        `json:"crime_type" yaml:"crime_type"`
	States         []string      `json:"states,omitempty" yaml:"states,omitempty"`
	TotalRecords   int           `json:"total_records_calculated" yaml:"total_records_calculated"`
	RecordsDeleted int64         `json:"records_deleted,omitempty" yaml:"records_deleted,omitempty"`
	Breakdowns     Breakdowns    `json:"breakdowns" yaml:"breakdowns"`
	Elapsed        time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Engine computes and persists aggregate statistics.
type Engine struct {
	cfg     config.StatsConfig
	store   store.Store
	lookup  population.Lookup
	metrics *metrics.Metrics
	txRetry resilience.RetryConfig
	now     func() time.Time
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLookup resolves populations through l instead of the store's
// population table.
func WithLookup(l population.Lookup) Option {
	return func(e *Engine) { e.lookup = l }
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTxRetry overrides the retry policy for the run transaction.
func WithTxRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.txRetry = cfg }
}

// WithClock sets the calculated_at source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(cfg config.StatsConfig, st store.Store, opts ...Option) *Engine {
	if cfg.PerCapitaBase <= 0 {
		cfg.PerCapitaBase = DefaultPerCapitaBase
	}
	if cfg.YoYMinYear == 0 {
		cfg.YoYMinYear = MinYear
	}
	e := &Engine{
		cfg:     cfg,
		store:   st,
		txRetry: resilience.TxRetryConfig(),
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.L().With(zap.String("component", "stats")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Calculate upserts the total, by-race, by-age, by-sex and by-state rows for
// the scope, then fills in YoY changes. Rows for values no longer present in
// the incident data are left in place; use Recalculate to prune them.
// An empty states list aggregates every state.
func (e *Engine) Calculate(ctx context.Context, year int, crimeType string, states []string) (*Result, error) {
	return e.execute(ctx, ModeCalculate, year, crimeType, states)
}

// Recalculate deletes every aggregate row for the scope and calculates it
// again in the same transaction.
func (e *Engine) Recalculate(ctx context.Context, year int, crimeType string) (*Result, error) {
	return e.execute(ctx, ModeRecalculate, year, crimeType, nil)
}

// Run recalculates the scope when it already has aggregates and calculates
// it otherwise. The states filter applies to both paths, so repeated runs
// with the same arguments produce the same rows.
func (e *Engine) Run(ctx context.Context, year int, crimeType string, states []string) (*Result, error) {
	if err := validateScope(year, crimeType); err != nil {
		return nil, err
	}
	exists, err := e.store.AggregatesExist(ctx, year, crimeType)
	if err != nil {
		return nil, &AggregationError{Op: "check", Year: year, CrimeType: crimeType, Err: err}
	}
	if exists {
		e.log.Info("stats: scope already calculated, recalculating",
			zap.Int("year", year), zap.String("crime_type", crimeType))
		return e.execute(ctx, ModeRecalculate, year, crimeType, states)
	}
	return e.Calculate(ctx, year, crimeType, states)
}

func (e *Engine) execute(ctx context.Context, mode string, year int, crimeType string, states []string) (*Result, error) {
	if err := validateScope(year, crimeType); err != nil {
		return nil, err
	}
	scope := model.Scope{Year: year, CrimeType: crimeType}
	log := e.log.With(zap.String("mode", mode), zap.Int("year", year), zap.String("crime_type", crimeType))
	log.Info("stats: starting", zap.Strings("states", states))

	start := time.Now()
	var res *Result
	err := resilience.Do(ctx, e.txRetry, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockScope(ctx, scope.LockKey()); err != nil {
				return err
			}
			r := &Result{Mode: mode, Year: year, CrimeType: crimeType, States: states}
			if mode == ModeRecalculate {
				n, err := tx.DeleteAggregates(ctx, year, crimeType)
				if err != nil {
					return err
				}
				r.RecordsDeleted = n
				log.Info("stats: deleted existing aggregates", zap.Int64("rows", n))
			}
			if err := e.calculate(ctx, tx, r, log); err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.ObserveAggregation(mode, StatusError, elapsed)
		log.Error("stats: run failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, &AggregationError{Op: mode, Year: year, CrimeType: crimeType, Err: err}
	}

	res.Status = StatusSuccess
	res.TotalRecords = res.Breakdowns.sum()
	res.Elapsed = elapsed
	e.metrics.ObserveAggregation(mode, StatusSuccess, elapsed)
	e.metrics.AddAggregateRows(string(model.DemographicTotal), res.Breakdowns.Total)
	e.metrics.AddAggregateRows(string(model.DemographicByRace), res.Breakdowns.ByRace)
	e.metrics.AddAggregateRows(string(model.DemographicByAge), res.Breakdowns.ByAge)
	e.metrics.AddAggregateRows(string(model.DemographicBySex), res.Breakdowns.BySex)
	e.metrics.AddAggregateRows(string(model.DemographicByState), res.Breakdowns.ByState)
	log.Info("stats: complete",
		zap.Int("rows", res.TotalRecords),
		zap.Int64("deleted", res.RecordsDeleted),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

// calculate runs every step against tx and records row counts on r.
func (e *Engine) calculate(ctx context.Context, tx store.Tx, r *Result, log *zap.Logger) error {
	lookup := e.lookup
	if lookup == nil {
		lookup = population.NewStoreLookup(tx)
	}
	c := &calculation{
		tx:        tx,
		lookup:    lookup,
		base:      e.cfg.PerCapitaBase,
		now:       e.now(),
		year:      r.Year,
		crimeType: r.CrimeType,
		filter:    store.IncidentFilter{Year: r.Year, CrimeType: r.CrimeType, States: r.States},
	}

	if err := c.total(ctx); err != nil {
		return err
	}
	for _, dim := range []model.Dimension{
		model.DimensionRace,
		model.DimensionAgeGroup,
		model.DimensionSex,
		model.DimensionState,
	} {
		n, err := c.grouped(ctx, dim)
		if err != nil {
			return err
		}
		log.Debug("stats: dimension calculated", zap.String("dimension", string(dim)), zap.Int("rows", n))
	}

	if r.Year > e.cfg.YoYMinYear {
		if err := c.yoy(ctx); err != nil {
			return err
		}
	}

	for _, a := range c.written {
		r.Breakdowns.add(a.DemographicType, 1)
	}
	return nil
}

// calculation holds the state of one run over a scope.
type calculation struct {
	tx        store.Tx
	lookup    population.Lookup
	base      float64
	now       time.Time
	year      int
	crimeType string
	filter    store.IncidentFilter

	written []*model.AggregateStat
}

func (c *calculation) total(ctx context.Context) error {
	count, err := c.tx.SumIncidents(ctx, c.filter)
	if err != nil {
		return eris.Wrap(err, "stats: sum incidents")
	}
	pop, err := c.lookup.Population(ctx, model.PopulationQuery{Year: c.year})
	if err != nil {
		return err
	}
	return c.upsert(ctx, model.AggregateKey{
		Year:            c.year,
		CrimeType:       c.crimeType,
		DemographicType: model.DemographicTotal,
	}, count, pop)
}

// grouped writes one row per non-null value of dim.
func (c *calculation) grouped(ctx context.Context, dim model.Dimension) (int, error) {
	groups, err := c.tx.GroupIncidents(ctx, c.filter, dim)
	if err != nil {
		return 0, eris.Wrapf(err, "stats: group incidents by %s", dim)
	}
	for _, g := range groups {
		pop, err := c.lookup.Population(ctx, populationQuery(c.year, dim, g.Value))
		if err != nil {
			return 0, err
		}
		key := model.AggregateKey{
			Year:            c.year,
			CrimeType:       c.crimeType,
			DemographicType: dim.DemographicType(),
		}
		value := g.Value
		if dim == model.DimensionState {
			key.State = &value
		} else {
			key.DemographicValue = &value
		}
		if err := c.upsert(ctx, key, g.IncidentCount, pop); err != nil {
			return 0, err
		}
	}
	return len(groups), nil
}

func (c *calculation) upsert(ctx context.Context, key model.AggregateKey, count int64, pop *int64) error {
	a := &model.AggregateStat{
		AggregateKey:  key,
		IncidentCount: count,
		Population:    pop,
		PerCapitaRate: PerCapitaRate(count, pop, c.base),
		CalculatedAt:  c.now,
	}
	if err := c.tx.UpsertAggregate(ctx, a); err != nil {
		return eris.Wrapf(err, "stats: upsert %s", key)
	}
	c.written = append(c.written, a)
	return nil
}

// yoy sets yoy_change on every row written by this run from the matching
// row one year earlier. Rows without a usable previous rate get NULL.
func (c *calculation) yoy(ctx context.Context) error {
	for _, a := range c.written {
		prev, err := c.tx.FindAggregate(ctx, a.PreviousYear())
		if err != nil {
			return eris.Wrapf(err, "stats: find previous %s", a.AggregateKey)
		}
		var change *float64
		if prev != nil {
			change = YoYChange(a.PerCapitaRate, prev.PerCapitaRate)
		}
		if err := c.tx.SetYoYChange(ctx, a.ID, change); err != nil {
			return eris.Wrapf(err, "stats: set yoy %s", a.AggregateKey)
		}
		a.YoYChange = change
	}
	return nil
}

func populationQuery(year int, dim model.Dimension, value string) model.PopulationQuery {
	q := model.PopulationQuery{Year: year}
	switch dim {
	case model.DimensionRace:
		q.Race = value
	case model.DimensionAgeGroup:
		q.AgeGroup = value
	case model.DimensionSex:
		q.Sex = value
	case model.DimensionState:
		q.State = value
	}
	return q
}

func validateScope(year int, crimeType string) error {
	if crimeType == "" {
		return eris.Wrap(ErrInvalidScope, "stats: crime type is required")
	}
	if year < MinYear || year > MaxYear {
		return eris.Wrapf(ErrInvalidScope, "stats: year %d out of range %d-%d", year, MinYear, MaxYear)
	}
	return nil
}
