package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	path := writeCSV(t, "murder.csv", threeRowCSV)

	res, err := Preview(context.Background(), testConfig(), path, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, []string{"year", "state", "race", "count"}, res.Columns)
	assert.Equal(t, "utf-8", res.Encoding)
	assert.Equal(t, ptr("count"), res.DetectedFields["incident_count"])
	assert.Nil(t, res.DetectedFields["sex"])
	assert.Empty(t, res.SchemaError)
	require.Len(t, res.Rows, 2)
	// values are raw, not normalized
	assert.Equal(t, "Black", res.Rows[1]["race"])
}

func TestPreview_DefaultRowsAndShortRows(t *testing.T) {
	path := writeCSV(t, "short.csv", "year,state,count\n2022,Ohio\n")

	res, err := Preview(context.Background(), testConfig(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "", res.Rows[0]["count"])
}

func TestPreview_ReportsSchemaProblems(t *testing.T) {
	path := writeCSV(t, "odd.csv", "Year of Offense,Total Murders\n2022,4\n")

	res, err := Preview(context.Background(), testConfig(), path, 5)
	require.NoError(t, err)
	assert.Contains(t, res.SchemaError, "missing required field: year")
	assert.Contains(t, res.SchemaError, "no demographic or location columns found")
}

func TestPreview_Empty(t *testing.T) {
	path := writeCSV(t, "empty.csv", "")

	_, err := Preview(context.Background(), testConfig(), path, 5)
	var emptyErr *EmptyInputError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, path, emptyErr.Path)
}
