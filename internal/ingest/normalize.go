package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/crime-stats/internal/model"
)

// raceVariants is matched in order as case-insensitive substrings.
var raceVariants = []struct {
	variant   string
	canonical string
}{
	{"white", "White"},
	{"black", "Black or African American"},
	{"black or african american", "Black or African American"},
	{"african american", "Black or African American"},
	{"asian", "Asian"},
	{"asian/pacific islander", "Asian"},
	{"native hawaiian", "Native Hawaiian or Other Pacific Islander"},
	{"pacific islander", "Native Hawaiian or Other Pacific Islander"},
	{"american indian", "American Indian or Alaska Native"},
	{"alaska native", "American Indian or Alaska Native"},
	{"hispanic", "Hispanic or Latino"},
	{"latino", "Hispanic or Latino"},
	{"unknown", model.RaceUnknown},
	{"other", "Other"},
}

// ageGroupPatterns is matched in order against the lowercased value.
var ageGroupPatterns = []struct {
	re    *regexp.Regexp
	group string
}{
	{regexp.MustCompile(`0[\s-]*17`), "0-17"},
	{regexp.MustCompile(`under\s*18`), "0-17"},
	{regexp.MustCompile(`18[\s-]*24`), "18-24"},
	{regexp.MustCompile(`25[\s-]*34`), "25-34"},
	{regexp.MustCompile(`35[\s-]*44`), "35-44"},
	{regexp.MustCompile(`45[\s-]*54`), "45-54"},
	{regexp.MustCompile(`55[\s-]*64`), "55-64"},
	{regexp.MustCompile(`65[\s+]`), "65+"},
	{regexp.MustCompile(`over\s*64`), "65+"},
}

// NormalizeRace maps a raw race label to the fixed vocabulary. Unmatched
// values are title-cased; empty values become Unknown.
func NormalizeRace(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.RaceUnknown
	}
	lower := strings.ToLower(v)
	for _, r := range raceVariants {
		if strings.Contains(lower, r.variant) {
			return r.canonical
		}
	}
	return cases.Title(language.Und).String(v)
}

// NormalizeSex maps m/male/males and f/female/females; anything else is Unknown.
func NormalizeSex(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "m", "male", "males":
		return model.SexMale
	case "f", "female", "females":
		return model.SexFemale
	default:
		return model.SexUnknown
	}
}

// NormalizeAgeGroup maps an age label onto a fixed bucket. Unmatched values
// pass through trimmed; empty values return nil.
func NormalizeAgeGroup(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	lower := strings.ToLower(v)
	for _, p := range ageGroupPatterns {
		if p.re.MatchString(lower) {
			g := p.group
			return &g
		}
	}
	return &v
}

// parseWhole parses an integer cell. Integral floats ("2022.0") and
// thousands separators ("1,234") are accepted.
func parseWhole(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// normalizeRow converts one source row. ok is false when the row has no
// usable year or incident count.
func normalizeRow(m Mapping, header, row []string, crimeType string, keepExtra bool) (inc model.Incident, ok bool) {
	year, ok := parseWhole(m.Value(row, FieldYear))
	if !ok || year < math.MinInt32 || year > math.MaxInt32 {
		return inc, false
	}
	count, ok := parseWhole(m.Value(row, FieldIncidentCount))
	if !ok {
		return inc, false
	}

	inc = model.Incident{
		Year:          int(year),
		CrimeType:     crimeType,
		IncidentCount: count,
		State:         model.StrPtr(strings.TrimSpace(m.Value(row, FieldState))),
		Jurisdiction:  model.StrPtr(strings.TrimSpace(m.Value(row, FieldJurisdiction))),
	}
	if m.Has(FieldRace) {
		race := NormalizeRace(m.Value(row, FieldRace))
		inc.Race = &race
	}
	if m.Has(FieldSex) {
		sex := NormalizeSex(m.Value(row, FieldSex))
		inc.Sex = &sex
	}
	if m.Has(FieldAgeGroup) {
		inc.AgeGroup = NormalizeAgeGroup(m.Value(row, FieldAgeGroup))
	}
	if pop, ok := parseWhole(m.Value(row, FieldPopulation)); ok {
		inc.Population = &pop
	}

	if keepExtra {
		for i, h := range header {
			if h == "" || m.Mapped(i) || i >= len(row) || row[i] == "" {
				continue
			}
			if inc.Extra == nil {
				inc.Extra = map[string]any{}
			}
			inc.Extra[h] = row[i]
		}
	}
	return inc, true
}
