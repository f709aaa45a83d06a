package population

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/model"
)

// Source produces population figures for one state and year.
type Source interface {
	Name() string
	Fetch(ctx context.Context, year int, state string) ([]model.PopulationFigure, error)
}

// NewSource builds the source named by cfg.Source. table configures how a
// csv source file is decoded.
func NewSource(cfg config.PopulationConfig, table fetcher.TableOptions) (Source, error) {
	switch cfg.Source {
	case "csv":
		if cfg.File == "" {
			return nil, eris.New("population: csv source requires population.file")
		}
		return NewCSVSource(cfg.File, table), nil
	case "census":
		return NewCensusSource(CensusOptionsFromConfig(cfg.Census)), nil
	case "synthetic":
		return NewSynthetic(), nil
	default:
		return nil, eris.Errorf("population: unknown source %q (valid: csv, census, synthetic)", cfg.Source)
	}
}
