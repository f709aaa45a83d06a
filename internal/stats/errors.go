package stats

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/model"
)

// ErrInvalidScope is returned for a year outside 1900-2100 or an empty crime type.
var ErrInvalidScope = eris.New("stats: invalid scope")

// StatisticsError is returned by Query when no aggregate matches.
type StatisticsError struct {
	Year            int
	CrimeType       string
	DemographicType model.DemographicType
	State           string
}

func (e *StatisticsError) Error() string {
	msg := fmt.Sprintf("stats: no calculated statistics for year=%d crime_type=%q", e.Year, e.CrimeType)
	if e.DemographicType != "" {
		msg += fmt.Sprintf(" demographic_type=%q", e.DemographicType)
	}
	if e.State != "" {
		msg += fmt.Sprintf(" state=%q", e.State)
	}
	return msg
}

// AggregationError wraps a failed calculate or recalculate run.
type AggregationError struct {
	Op        string
	Year      int
	CrimeType string
	Err       error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("stats: %s %d/%s: %v", e.Op, e.Year, e.CrimeType, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// IsValidation reports whether err was caused by the request rather than by
// the store or a collaborator.
func IsValidation(err error) bool {
	var se *StatisticsError
	return errors.As(err, &se) || errors.Is(err, ErrInvalidScope)
}
