package ingest

// Field is a semantic column of an incident extract.
type Field string

const (
	FieldYear          Field = "year"
	FieldState         Field = "state"
	FieldJurisdiction  Field = "jurisdiction"
	FieldRace          Field = "race"
	FieldAgeGroup      Field = "age_group"
	FieldSex           Field = "sex"
	FieldIncidentCount Field = "incident_count"
	FieldPopulation    Field = "population"
)

const missingDimension = "dimension"

// columnAliases lists, per field, the source header names tried in order.
// Matching is exact and case-sensitive.
var columnAliases = []struct {
	field   Field
	aliases []string
}{
	{FieldYear, []string{"year", "data_year", "Year", "YEAR"}},
	{FieldState, []string{"state", "state_name", "State", "STATE"}},
	{FieldJurisdiction, []string{"jurisdiction", "agency", "ori", "Agency", "JURISDICTION"}},
	{FieldRace, []string{"race", "offender_race", "victim_race", "Race", "RACE"}},
	{FieldAgeGroup, []string{"age_group", "age", "age_range", "Age", "AGE_GROUP"}},
	{FieldSex, []string{"sex", "gender", "Sex", "GENDER"}},
	{FieldIncidentCount, []string{"count", "incidents", "total", "murders", "COUNT", "INCIDENTS"}},
	{FieldPopulation, []string{"population", "pop", "Population", "POPULATION"}},
}

// dimensionFields must have at least one mapped column.
var dimensionFields = []Field{FieldState, FieldRace, FieldAgeGroup, FieldSex, FieldJurisdiction}

// Fields returns every semantic field in mapping order.
func Fields() []Field {
	out := make([]Field, len(columnAliases))
	for i, c := range columnAliases {
		out[i] = c.field
	}
	return out
}

// Aliases returns the header names accepted for f.
func Aliases(f Field) []string {
	for _, c := range columnAliases {
		if c.field == f {
			return c.aliases
		}
	}
	return nil
}

// Mapping binds each detected field to a source column.
type Mapping struct {
	// Columns maps a field to the header name it was found under.
	Columns map[Field]string
	index   map[Field]int
}

// DetectFields maps each field to the first of its aliases present in header.
func DetectFields(header []string) Mapping {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	m := Mapping{Columns: map[Field]string{}, index: map[Field]int{}}
	for _, c := range columnAliases {
		for _, alias := range c.aliases {
			if i, ok := pos[alias]; ok {
				m.Columns[c.field] = alias
				m.index[c.field] = i
				break
			}
		}
	}
	return m
}

// Has reports whether f was mapped.
func (m Mapping) Has(f Field) bool {
	_, ok := m.index[f]
	return ok
}

// Value returns the cell for f in row, or "" when f is unmapped or the row is short.
func (m Mapping) Value(row []string, f Field) string {
	i, ok := m.index[f]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Mapped reports whether header column i backs some field.
func (m Mapping) Mapped(i int) bool {
	for _, idx := range m.index {
		if idx == i {
			return true
		}
	}
	return false
}

// Detected returns every field with its source column, or nil when undetected.
func (m Mapping) Detected() map[string]*string {
	out := make(map[string]*string, len(columnAliases))
	for _, c := range columnAliases {
		if col, ok := m.Columns[c.field]; ok {
			out[string(c.field)] = &col
		} else {
			out[string(c.field)] = nil
		}
	}
	return out
}

// Validate returns a *SchemaValidationError when year or incident_count is
// unmapped, or when no demographic or location column is present.
func (m Mapping) Validate() error {
	var missing []string
	for _, f := range []Field{FieldYear, FieldIncidentCount} {
		if !m.Has(f) {
			missing = append(missing, string(f))
		}
	}

	hasDimension := false
	for _, f := range dimensionFields {
		if m.Has(f) {
			hasDimension = true
			break
		}
	}
	if !hasDimension {
		missing = append(missing, missingDimension)
	}

	if len(missing) > 0 {
		return &SchemaValidationError{Missing: missing}
	}
	return nil
}
