// Package model defines the persisted entities shared by ingestion and aggregation.
package model

import "time"

// Canonical sex values.
const (
	SexMale    = "Male"
	SexFemale  = "Female"
	SexUnknown = "Unknown"
)

// RaceUnknown is used when a race cell is empty.
const RaceUnknown = "Unknown"

// AgeGroups lists the fixed age buckets in display order.
var AgeGroups = []string{"0-17", "18-24", "25-34", "35-44", "45-54", "55-64", "65+"}

// Incident is one normalized crime observation.
// Optional attributes are nil when the source row had no value.
type Incident struct {
	ID            int64          `json:"id,omitempty" yaml:"id,omitempty"`
	SourceID      int64          `json:"source_id" yaml:"source_id"`
	Year          int            `json:"year" yaml:"year"`
	CrimeType     string         `json:"crime_type" yaml:"crime_type"`
	State         *string        `json:"state,omitempty" yaml:"state,omitempty"`
	Jurisdiction  *string        `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	AgeGroup      *string        `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	Race          *string        `json:"race,omitempty" yaml:"race,omitempty"`
	Sex           *string        `json:"sex,omitempty" yaml:"sex,omitempty"`
	IncidentCount int64          `json:"incident_count" yaml:"incident_count"`
	Population    *int64         `json:"population,omitempty" yaml:"population,omitempty"`
	Extra         map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
	CreatedAt     time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
