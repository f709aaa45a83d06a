package model

import "time"

// PopulationFigure is a population count for a (year, state, age_group, race, sex) key.
// Nil key parts mean "no breakdown on that axis"; the all-nil key is the national total.
type PopulationFigure struct {
	ID         int64     `json:"id,omitempty" yaml:"id,omitempty"`
	Year       int       `json:"year" yaml:"year"`
	State      *string   `json:"state,omitempty" yaml:"state,omitempty"`
	AgeGroup   *string   `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	Race       *string   `json:"race,omitempty" yaml:"race,omitempty"`
	Sex        *string   `json:"sex,omitempty" yaml:"sex,omitempty"`
	Population int64     `json:"population" yaml:"population"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// PopulationQuery filters population figures. Empty fields match every value.
type PopulationQuery struct {
	Year     int    `json:"year" yaml:"year"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
	Race     string `json:"race,omitempty" yaml:"race,omitempty"`
	AgeGroup string `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	Sex      string `json:"sex,omitempty" yaml:"sex,omitempty"`
}
