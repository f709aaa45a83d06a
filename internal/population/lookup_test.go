package population

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/model"
)

func TestStoreLookup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.UpsertPopulation(ctx, []model.PopulationFigure{
		{Year: 2022, State: ptr("California"), Population: 1_000_000},
		{Year: 2022, State: ptr("Texas"), Population: 800_000},
		{Year: 2022, State: ptr("Texas"), Race: ptr("White"), Population: 500_000},
	})
	require.NoError(t, err)

	l := NewStoreLookup(st)

	tests := []struct {
		name string
		q    model.PopulationQuery
		want *int64
	}{
		{"all rows", model.PopulationQuery{Year: 2022}, ptr(int64(2_300_000))},
		{"state", model.PopulationQuery{Year: 2022, State: "California"}, ptr(int64(1_000_000))},
		{"race", model.PopulationQuery{Year: 2022, Race: "White"}, ptr(int64(500_000))},
		{"no match", model.PopulationQuery{Year: 2022, Race: "Asian"}, nil},
		{"other year", model.PopulationQuery{Year: 1999}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Population(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ok, err := l.Exists(ctx, 2022, "Texas")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Exists(ctx, 2021, "")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := l.Delete(ctx, 2022, "Texas")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := l.Population(ctx, model.PopulationQuery{Year: 2022})
	require.NoError(t, err)
	assert.Equal(t, ptr(int64(1_000_000)), got)
}

func TestStoreLookup_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	l := NewStoreLookup(failingRepo{err: boom})

	_, err := l.Population(ctx, model.PopulationQuery{Year: 2022, State: "Ohio"})
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Ohio", le.Query.State)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `state="Ohio"`)

	_, err = l.Exists(ctx, 2022, "")
	assert.ErrorAs(t, err, &le)

	_, err = l.Delete(ctx, 2022, "")
	assert.ErrorAs(t, err, &le)
}
