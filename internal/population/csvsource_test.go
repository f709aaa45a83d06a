package population

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/model"
)

func csvOpts() fetcher.TableOptions {
	return fetcher.TableOptions{Encodings: []string{"utf-8", "iso-8859-1"}}
}

func TestCSVSource_Fetch(t *testing.T) {
	path := writeFile(t, "pop.csv", `year,state,age_group,race,sex,population
2022,California,,,,"1,000,000"
2022,California,18 to 24,african american,F,12000
2022,Texas,,,,800000
2021,California,,,,990000
`)
	src := NewCSVSource(path, csvOpts())
	assert.Equal(t, SourceCSV, src.Name())

	figures, err := src.Fetch(context.Background(), 2022, "california")
	require.NoError(t, err)
	require.Len(t, figures, 2)

	total := figures[0]
	assert.Equal(t, "california", model.Deref(total.State))
	assert.Nil(t, total.Race)
	assert.Nil(t, total.AgeGroup)
	assert.Nil(t, total.Sex)
	assert.Equal(t, int64(1_000_000), total.Population)

	detail := figures[1]
	assert.Equal(t, "18-24", model.Deref(detail.AgeGroup))
	assert.Equal(t, "Black or African American", model.Deref(detail.Race))
	assert.Equal(t, model.SexFemale, model.Deref(detail.Sex))
	assert.Equal(t, int64(12000), detail.Population)
}

func TestCSVSource_Aliases(t *testing.T) {
	path := writeFile(t, "pop.csv", "YEAR,STNAME,POPESTIMATE\n2022,Texas,800000\n")
	figures, err := NewCSVSource(path, csvOpts()).Fetch(context.Background(), 2022, "Texas")
	require.NoError(t, err)
	require.Len(t, figures, 1)
	assert.Equal(t, int64(800000), figures[0].Population)
}

func TestCSVSource_SkipsBadRows(t *testing.T) {
	path := writeFile(t, "pop.csv", "year,state,population\nabc,Texas,1\n2022,Texas,-5\n2022,,10\n2022,Texas,7\n")
	figures, err := NewCSVSource(path, csvOpts()).Fetch(context.Background(), 2022, "Texas")
	require.NoError(t, err)
	require.Len(t, figures, 1)
	assert.Equal(t, int64(7), figures[0].Population)
}

func TestCSVSource_MissingColumns(t *testing.T) {
	path := writeFile(t, "pop.csv", "year,count\n2022,5\n")
	src := NewCSVSource(path, csvOpts())

	_, err := src.Fetch(context.Background(), 2022, "Texas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns: state, population")

	// The load error is sticky.
	_, err = src.Fetch(context.Background(), 2022, "Ohio")
	assert.Error(t, err)
}

func TestCSVSource_MissingFile(t *testing.T) {
	_, err := NewCSVSource("/nonexistent/pop.csv", csvOpts()).Fetch(context.Background(), 2022, "Texas")
	assert.Error(t, err)
}
