package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crime-stats/internal/fetcher"
)

// ErrProvenanceNotFound is returned when an ingest names an unknown provenance id.
var ErrProvenanceNotFound = eris.New("ingest: provenance not found")

// SchemaValidationError lists the semantic fields no source column maps to.
type SchemaValidationError struct {
	// Missing holds field names; "dimension" stands for "no demographic or location column".
	Missing []string
}

func (e *SchemaValidationError) Error() string {
	msgs := make([]string, 0, len(e.Missing))
	for _, f := range e.Missing {
		if f == missingDimension {
			msgs = append(msgs, "no demographic or location columns found")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("missing required field: %s (tried: %s)", f, strings.Join(Aliases(Field(f)), ", ")))
	}
	return "ingest: schema validation failed: " + strings.Join(msgs, "; ")
}

// EmptyInputError is returned for a file with no data rows.
type EmptyInputError struct {
	Path string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("ingest: %s has no data rows", e.Path)
}

// IngestionError is returned by Ingest after the failure has been recorded
// on the provenance row.
type IngestionError struct {
	ProvenanceID int64
	RunID        string
	Err          error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest: provenance %d failed: %v", e.ProvenanceID, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is caused by the input rather than the
// system: a bad schema, an empty or undecodable file, or an unknown provenance id.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var (
		schemaErr *SchemaValidationError
		emptyErr  *EmptyInputError
		encErr    *fetcher.EncodingError
	)
	return errors.As(err, &schemaErr) ||
		errors.As(err, &emptyErr) ||
		errors.As(err, &encErr) ||
		errors.Is(err, ErrProvenanceNotFound)
}
