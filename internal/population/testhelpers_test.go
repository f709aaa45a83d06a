package population

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "population.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// failingRepo fails every call with err.
type failingRepo struct {
	err error
}

func (r failingRepo) UpsertPopulation(context.Context, []model.PopulationFigure) (int64, error) {
	return 0, r.err
}

func (r failingRepo) SumPopulation(context.Context, model.PopulationQuery) (*int64, error) {
	return nil, r.err
}

func (r failingRepo) PopulationExists(context.Context, int, string) (bool, error) {
	return false, r.err
}

func (r failingRepo) DeletePopulation(context.Context, int, string) (int64, error) {
	return 0, r.err
}

// stubSource returns fixed figures per state, or errs[state].
type stubSource struct {
	figures map[string][]model.PopulationFigure
	errs    map[string]error
}

func (s stubSource) Name() string { return "STUB" }

func (s stubSource) Fetch(_ context.Context, _ int, state string) ([]model.PopulationFigure, error) {
	if err := s.errs[state]; err != nil {
		return nil, err
	}
	return s.figures[state], nil
}

func ptr[T any](v T) *T { return &v }
