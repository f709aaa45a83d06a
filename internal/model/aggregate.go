package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// DemographicType is the grouping dimension of an aggregate row.
type DemographicType string

const (
	DemographicTotal   DemographicType = "total"
	DemographicByRace  DemographicType = "by_race"
	DemographicByAge   DemographicType = "by_age"
	DemographicBySex   DemographicType = "by_sex"
	DemographicByState DemographicType = "by_state"
)

// DemographicTypes lists every dimension in calculation order.
var DemographicTypes = []DemographicType{
	DemographicTotal,
	DemographicByRace,
	DemographicByAge,
	DemographicBySex,
	DemographicByState,
}

// ParseDemographicType converts "total", "by_race", ... into a DemographicType.
func ParseDemographicType(s string) (DemographicType, error) {
	for _, d := range DemographicTypes {
		if string(d) == s {
			return d, nil
		}
	}
	return "", eris.Errorf("unknown demographic type: %q (valid: total, by_race, by_age, by_sex, by_state)", s)
}

// Dimension names an incident column that aggregates can be grouped by.
type Dimension string

const (
	DimensionRace     Dimension = "race"
	DimensionAgeGroup Dimension = "age_group"
	DimensionSex      Dimension = "sex"
	DimensionState    Dimension = "state"
)

// DemographicType returns the aggregate dimension produced by grouping on d.
func (d Dimension) DemographicType() DemographicType {
	switch d {
	case DimensionRace:
		return DemographicByRace
	case DimensionAgeGroup:
		return DemographicByAge
	case DimensionSex:
		return DemographicBySex
	case DimensionState:
		return DemographicByState
	default:
		return ""
	}
}

// AggregateKey is the unique key of an aggregate row.
type AggregateKey struct {
	Year             int             `json:"year" yaml:"year"`
	CrimeType        string          `json:"crime_type" yaml:"crime_type"`
	DemographicType  DemographicType `json:"demographic_type" yaml:"demographic_type"`
	DemographicValue *string         `json:"demographic_value,omitempty" yaml:"demographic_value,omitempty"`
	State            *string         `json:"state,omitempty" yaml:"state,omitempty"`
}

// PreviousYear returns the same key one year earlier.
func (k AggregateKey) PreviousYear() AggregateKey {
	k.Year--
	return k
}

// String renders the key for logs.
func (k AggregateKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%s/%s", k.Year, k.CrimeType, k.DemographicType, Deref(k.DemographicValue), Deref(k.State))
}

// AggregateStat is one pre-computed row of the query table.
type AggregateStat struct {
	AggregateKey `yaml:",inline"`

	ID            int64     `json:"id,omitempty" yaml:"id,omitempty"`
	IncidentCount int64     `json:"incident_count" yaml:"incident_count"`
	Population    *int64    `json:"population,omitempty" yaml:"population,omitempty"`
	PerCapitaRate *float64  `json:"per_capita_rate,omitempty" yaml:"per_capita_rate,omitempty"`
	YoYChange     *float64  `json:"yoy_change,omitempty" yaml:"yoy_change,omitempty"`
	CalculatedAt  time.Time `json:"calculated_at" yaml:"calculated_at"`
}

// Scope is a (year, crime_type) pair that aggregates were computed for.
type Scope struct {
	Year      int    `json:"year" yaml:"year"`
	CrimeType string `json:"crime_type" yaml:"crime_type"`
}

// LockKey returns the string used to serialize runs over this scope.
func (s Scope) LockKey() string {
	return fmt.Sprintf("aggregate:%d:%s", s.Year, s.CrimeType)
}
