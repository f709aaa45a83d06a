package ingest

import (
	"math"

	"github.com/sells-group/crime-stats/internal/model"
)

const (
	outlierZThreshold = 3.0
	maxOutlierValues  = 10
	minValidYear      = 1900
	maxValidYear      = 2100
)

// MissingStat counts empty cells in one demographic column.
type MissingStat struct {
	Count      int     `json:"count" yaml:"count"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// QualityReport summarizes data-quality findings for one ingestion run.
// Findings never block the run.
type QualityReport struct {
	NegativeCounts          int                    `json:"negative_counts,omitempty" yaml:"negative_counts,omitempty"`
	NegativeCountsCorrected int                    `json:"negative_counts_corrected,omitempty" yaml:"negative_counts_corrected,omitempty"`
	OutlierCount            int                    `json:"outlier_count,omitempty" yaml:"outlier_count,omitempty"`
	OutlierValues           []int64                `json:"outlier_values,omitempty" yaml:"outlier_values,omitempty"`
	InvalidYears            int                    `json:"invalid_years,omitempty" yaml:"invalid_years,omitempty"`
	Missing                 map[string]MissingStat `json:"missing,omitempty" yaml:"missing,omitempty"`
	DroppedRows             int                    `json:"dropped_rows,omitempty" yaml:"dropped_rows,omitempty"`
}

// Empty reports whether no issue was found.
func (r QualityReport) Empty() bool {
	return len(r.Issues()) == 0
}

// Issues flattens the report into the metadata shape: only non-zero findings,
// with missing columns keyed as missing_<column>.
func (r QualityReport) Issues() map[string]any {
	out := map[string]any{}
	if r.NegativeCounts > 0 {
		out["negative_counts"] = r.NegativeCounts
	}
	if r.NegativeCountsCorrected > 0 {
		out["negative_counts_corrected"] = r.NegativeCountsCorrected
	}
	if r.OutlierCount > 0 {
		out["outlier_count"] = r.OutlierCount
		out["outlier_values"] = r.OutlierValues
	}
	if r.InvalidYears > 0 {
		out["invalid_years"] = r.InvalidYears
	}
	for col, stat := range r.Missing {
		out["missing_"+col] = stat
	}
	if r.DroppedRows > 0 {
		out["dropped_rows"] = r.DroppedRows
	}
	return out
}

// CheckQuality inspects normalized incidents. Missing-value statistics are
// reported only for columns present in the mapping.
func CheckQuality(incidents []model.Incident, m Mapping) QualityReport {
	var r QualityReport

	counts := make([]int64, len(incidents))
	for i, inc := range incidents {
		counts[i] = inc.IncidentCount
		if inc.IncidentCount < 0 {
			r.NegativeCounts++
		}
		if inc.Year < minValidYear || inc.Year > maxValidYear {
			r.InvalidYears++
		}
	}

	outliers := detectOutliers(counts, outlierZThreshold)
	r.OutlierCount = len(outliers)
	for _, i := range outliers {
		if len(r.OutlierValues) == maxOutlierValues {
			break
		}
		r.OutlierValues = append(r.OutlierValues, counts[i])
	}

	total := len(incidents)
	columns := []struct {
		field Field
		value func(model.Incident) *string
	}{
		{FieldState, func(i model.Incident) *string { return i.State }},
		{FieldRace, func(i model.Incident) *string { return i.Race }},
		{FieldAgeGroup, func(i model.Incident) *string { return i.AgeGroup }},
		{FieldSex, func(i model.Incident) *string { return i.Sex }},
	}
	for _, col := range columns {
		if !m.Has(col.field) || total == 0 {
			continue
		}
		missing := 0
		for _, inc := range incidents {
			if col.value(inc) == nil {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		if r.Missing == nil {
			r.Missing = map[string]MissingStat{}
		}
		r.Missing[string(col.field)] = MissingStat{
			Count:      missing,
			Percentage: math.Round(float64(missing)/float64(total)*100*100) / 100,
		}
	}

	return r
}

// clampNegatives sets negative counts to zero and returns how many it changed.
func clampNegatives(incidents []model.Incident) int {
	n := 0
	for i := range incidents {
		if incidents[i].IncidentCount < 0 {
			incidents[i].IncidentCount = 0
			n++
		}
	}
	return n
}

// detectOutliers returns indices whose z-score (sample standard deviation)
// exceeds threshold. Fewer than 3 values or zero variance yields none.
func detectOutliers(values []int64, threshold float64) []int {
	if len(values) < 3 {
		return nil
	}

	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)-1))
	if std == 0 {
		return nil
	}

	var out []int
	for i, v := range values {
		if math.Abs((float64(v)-mean)/std) > threshold {
			out = append(out, i)
		}
	}
	return out
}
