package population

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/ingest"
	"github.com/sells-group/crime-stats/internal/model"
)

// SourceCSV is the provenance tag of figures read from a file.
const SourceCSV = "CSV"

// csvColumns lists accepted header names per field, in priority order.
var csvColumns = map[string][]string{
	"year":       {"year", "Year", "YEAR"},
	"state":      {"state", "State", "STATE", "STNAME", "state_name"},
	"age_group":  {"age_group", "Age Group", "AGE_GROUP", "age"},
	"race":       {"race", "Race", "RACE"},
	"sex":        {"sex", "Sex", "SEX", "gender"},
	"population": {"population", "Population", "POPULATION", "POPESTIMATE", "pop"},
}

// CSVSource reads figures from a delimited or XLSX file with one row per
// (year, state, age_group, race, sex) key. Empty demographic cells mean
// no breakdown on that axis.
type CSVSource struct {
	path string
	opts fetcher.TableOptions

	once sync.Once
	rows []csvRow
	err  error
	log  *zap.Logger
}

type csvRow struct {
	year       int
	state      string
	ageGroup   *string
	race       *string
	sex        *string
	population int64
}

// NewCSVSource creates a source over the file at path.
func NewCSVSource(path string, opts fetcher.TableOptions) *CSVSource {
	return &CSVSource{
		path: path,
		opts: opts,
		log:  zap.L().With(zap.String("component", "population.csv")),
	}
}

// Name implements Source.
func (s *CSVSource) Name() string { return SourceCSV }

// Fetch implements Source. The file is read once and filtered per call.
func (s *CSVSource) Fetch(ctx context.Context, year int, state string) ([]model.PopulationFigure, error) {
	s.once.Do(func() { s.rows, s.err = s.load(ctx) })
	if s.err != nil {
		return nil, s.err
	}

	var out []model.PopulationFigure
	for _, r := range s.rows {
		if r.year != year || !strings.EqualFold(r.state, state) {
			continue
		}
		out = append(out, model.PopulationFigure{
			Year:       year,
			State:      model.StrPtr(state),
			AgeGroup:   r.ageGroup,
			Race:       r.race,
			Sex:        r.sex,
			Population: r.population,
			Source:     SourceCSV,
		})
	}
	return out, nil
}

func (s *CSVSource) load(ctx context.Context) ([]csvRow, error) {
	table, err := fetcher.ReadTable(ctx, s.path, s.opts)
	if err != nil {
		return nil, eris.Wrapf(err, "population: read %s", s.path)
	}

	idx := make(map[string]int, len(csvColumns))
	for field, aliases := range csvColumns {
		idx[field] = -1
		for _, alias := range aliases {
			if i := table.Column(alias); i >= 0 {
				idx[field] = i
				break
			}
		}
	}
	var missing []string
	for _, field := range []string{"year", "state", "population"} {
		if idx[field] < 0 {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("population: %s missing columns: %s", s.path, strings.Join(missing, ", "))
	}

	cell := func(row []string, field string) string {
		i := idx[field]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rows := make([]csvRow, 0, len(table.Rows))
	skipped := 0
	for _, row := range table.Rows {
		year, yerr := strconv.Atoi(cell(row, "year"))
		pop, perr := strconv.ParseInt(strings.ReplaceAll(cell(row, "population"), ",", ""), 10, 64)
		state := cell(row, "state")
		if yerr != nil || perr != nil || pop < 0 || state == "" {
			skipped++
			continue
		}

		r := csvRow{year: year, state: state, population: pop}
		if v := cell(row, "race"); v != "" {
			r.race = model.StrPtr(ingest.NormalizeRace(v))
		}
		if v := cell(row, "sex"); v != "" {
			r.sex = model.StrPtr(ingest.NormalizeSex(v))
		}
		r.ageGroup = ingest.NormalizeAgeGroup(cell(row, "age_group"))
		rows = append(rows, r)
	}
	if skipped > 0 {
		s.log.Warn("population: skipped unusable rows", zap.String("path", s.path), zap.Int("rows", skipped))
	}
	return rows, nil
}
