package store

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/model"
)

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

// where accumulates AND-ed conditions and their arguments.
type where struct {
	ph    placeholder
	conds []string
	args  []any
}

func newWhere(ph placeholder) *where { return &where{ph: ph} }

// eq adds "col = value".
func (w *where) eq(col string, v any) *where {
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf("%s = %s", col, w.ph(len(w.args))))
	return w
}

// in adds "col IN (...)". An empty list adds nothing.
func (w *where) in(col string, values []string) *where {
	if len(values) == 0 {
		return w
	}
	phs := make([]string, len(values))
	for i, v := range values {
		w.args = append(w.args, v)
		phs[i] = w.ph(len(w.args))
	}
	w.conds = append(w.conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ", ")))
	return w
}

// raw adds a condition without arguments.
func (w *where) raw(cond string) *where {
	w.conds = append(w.conds, cond)
	return w
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func incidentWhere(ph placeholder, f IncidentFilter) *where {
	return newWhere(ph).eq("year", f.Year).eq("crime_type", f.CrimeType).in("state", f.States)
}

func aggregateWhere(ph placeholder, f AggregateFilter) *where {
	w := newWhere(ph)
	if f.Year != 0 {
		w.eq("year", f.Year)
	}
	if f.CrimeType != "" {
		w.eq("crime_type", f.CrimeType)
	}
	if f.DemographicType != "" {
		w.eq("demographic_type", string(f.DemographicType))
	}
	if f.State != "" {
		w.eq("state", f.State)
	}
	return w
}

func populationWhere(ph placeholder, q model.PopulationQuery) *where {
	w := newWhere(ph).eq("year", q.Year)
	if q.State != "" {
		w.eq("state", q.State)
	}
	if q.Race != "" {
		w.eq("race", q.Race)
	}
	if q.AgeGroup != "" {
		w.eq("age_group", q.AgeGroup)
	}
	if q.Sex != "" {
		w.eq("sex", q.Sex)
	}
	return w
}

func provenanceWhere(ph placeholder, f ProvenanceFilter) *where {
	w := newWhere(ph)
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	if f.Year != 0 {
		w.eq("year", f.Year)
	}
	return w
}

// dimensionColumn maps a grouping dimension to its incident column.
func dimensionColumn(dim model.Dimension) (string, error) {
	switch dim {
	case model.DimensionRace, model.DimensionAgeGroup, model.DimensionSex, model.DimensionState:
		return string(dim), nil
	default:
		return "", eris.Errorf("store: unknown dimension %q", dim)
	}
}

const aggregateOrder = " ORDER BY year, crime_type, demographic_type, COALESCE(state, ''), COALESCE(demographic_value, '')"

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

func mergeError(message string, metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["error"] = message
	return out
}
