package population

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
)

// SourceCensus is the provenance tag of figures from the Census data API.
const SourceCensus = "US_CENSUS"

// CensusOptions configures a CensusSource.
type CensusOptions struct {
	BaseURL    string
	APIKey     string
	Dataset    string
	Variable   string
	RatePerSec float64
	Timeout    time.Duration

	// Retry overrides the default HTTP retry policy.
	Retry *resilience.RetryConfig

	// BreakerThreshold consecutive transient failures open the circuit for BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// CensusOptionsFromConfig maps the population.census config section.
func CensusOptionsFromConfig(cfg config.CensusConfig) CensusOptions {
	return CensusOptions{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Dataset:    cfg.Dataset,
		Variable:   cfg.Variable,
		RatePerSec: cfg.RatePerSec,
		Timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// CensusSource fetches state population totals from the Census Bureau data
// API (https://api.census.gov/data/<year>/<dataset>). Only state totals are
// produced; demographic breakdowns are left nil.
type CensusSource struct {
	opts    CensusOptions
	http    *fetcher.HTTPFetcher
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewCensusSource creates a Census source.
func NewCensusSource(opts CensusOptions) *CensusSource {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.census.gov/data"
	}
	if opts.Dataset == "" {
		opts.Dataset = "pep/population"
	}
	if opts.Variable == "" {
		opts.Variable = "POP"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	retry := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	retry.OnRetry = resilience.RetryLogger("census", "population")

	return &CensusSource{
		opts: opts,
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:    opts.Timeout,
			RatePerSec: opts.RatePerSec,
			Retry:      &retry,
		}),
		breaker: resilience.NewCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		log:     zap.L().With(zap.String("component", "population.census")),
	}
}

// Name implements Source.
func (s *CensusSource) Name() string { return SourceCensus }

// Fetch implements Source.
func (s *CensusSource) Fetch(ctx context.Context, year int, state string) ([]model.PopulationFigure, error) {
	fips, ok := FIPS(state)
	if !ok {
		return nil, eris.Errorf("population: census: unknown state %q", state)
	}

	reqURL := s.requestURL(year, fips)
	var pop int64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		pop, ferr = s.fetchTotal(ctx, reqURL)
		return ferr
	})
	if err != nil {
		return nil, eris.Wrapf(err, "population: census %s %d", state, year)
	}

	s.log.Debug("census total fetched",
		zap.String("state", state),
		zap.Int("year", year),
		zap.Int64("population", pop),
	)
	return []model.PopulationFigure{{
		Year:       year,
		State:      model.StrPtr(state),
		Population: pop,
		Source:     SourceCensus,
	}}, nil
}

func (s *CensusSource) requestURL(year int, fips string) string {
	params := url.Values{
		"get": {"NAME," + s.opts.Variable},
		"for": {"state:" + fips},
	}
	if s.opts.APIKey != "" {
		params.Set("key", s.opts.APIKey)
	}
	base := strings.TrimRight(s.opts.BaseURL, "/")
	return fmt.Sprintf("%s/%d/%s?%s", base, year, strings.Trim(s.opts.Dataset, "/"), params.Encode())
}

// fetchTotal parses the API's array-of-rows response:
// [["NAME","POP","state"],["California","39538223","06"]].
func (s *CensusSource) fetchTotal(ctx context.Context, reqURL string) (int64, error) {
	body, err := s.http.Download(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return 0, eris.Wrap(err, "census: read body")
	}

	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, eris.Wrap(err, "census: parse response")
	}
	if len(rows) < 2 {
		return 0, eris.New("census: response has no data rows")
	}

	col := -1
	for i, h := range rows[0] {
		if h == s.opts.Variable {
			col = i
			break
		}
	}
	if col < 0 || col >= len(rows[1]) {
		return 0, eris.Errorf("census: response has no %s column", s.opts.Variable)
	}

	pop, err := strconv.ParseInt(rows[1][col], 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "census: parse %s value %q", s.opts.Variable, rows[1][col])
	}
	return pop, nil
}
