package population

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/model"
)

// SourceSynthetic tags generated figures so they are never mistaken for census data.
const SourceSynthetic = "SYNTHETIC"

// syntheticBase is the generated state population; other states get defaultSyntheticBase.
var syntheticBase = map[string]int64{
	"California":     39_500_000,
	"Texas":          29_000_000,
	"Florida":        21_500_000,
	"New York":       19_500_000,
	"Pennsylvania":   12_800_000,
	"Illinois":       12_700_000,
	"Ohio":           11_700_000,
	"Georgia":        10_600_000,
	"North Carolina": 10_400_000,
	"Michigan":       10_000_000,
}

const defaultSyntheticBase int64 = 5_000_000

type share struct {
	label string
	frac  float64
}

// syntheticRaceShares uses the canonical race labels produced by ingestion.
var syntheticRaceShares = []share{
	{"White", 0.60},
	{"Black or African American", 0.13},
	{"American Indian or Alaska Native", 0.01},
	{"Asian", 0.06},
	{"Native Hawaiian or Other Pacific Islander", 0.002},
	{"Two or More Races", 0.028},
	{"Hispanic or Latino", 0.18},
}

var syntheticAgeShares = []share{
	{"0-17", 0.22},
	{"18-24", 0.09},
	{"25-34", 0.14},
	{"35-44", 0.13},
	{"45-54", 0.13},
	{"55-64", 0.13},
	{"65+", 0.16},
}

// Synthetic generates deterministic fixture figures: state base × race share
// × age share, split evenly by sex. For development and tests only.
type Synthetic struct{}

// NewSynthetic creates the generator and warns that its output is not real data.
func NewSynthetic() *Synthetic {
	zap.L().Warn("population: using synthetic figures, per-capita rates will not reflect real populations",
		zap.String("component", "population.synthetic"))
	return &Synthetic{}
}

// Name implements Source.
func (*Synthetic) Name() string { return SourceSynthetic }

// Fetch implements Source. It returns race × age_group × sex rows for the state.
func (*Synthetic) Fetch(ctx context.Context, year int, state string) ([]model.PopulationFigure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, ok := syntheticBase[state]
	if !ok {
		base = defaultSyntheticBase
	}

	out := make([]model.PopulationFigure, 0, len(syntheticRaceShares)*len(syntheticAgeShares)*2)
	for _, race := range syntheticRaceShares {
		racePop := int64(float64(base) * race.frac)
		for _, age := range syntheticAgeShares {
			perSex := int64(float64(racePop)*age.frac) / 2
			for _, sex := range []string{model.SexMale, model.SexFemale} {
				out = append(out, model.PopulationFigure{
					Year:       year,
					State:      model.StrPtr(state),
					Race:       model.StrPtr(race.label),
					AgeGroup:   model.StrPtr(age.label),
					Sex:        model.StrPtr(sex),
					Population: perSex,
					Source:     SourceSynthetic,
				})
			}
		}
	}
	return out, nil
}
