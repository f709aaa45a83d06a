package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() config.IngestConfig {
	return config.IngestConfig{
		BatchSize:        1000,
		PreviewRows:      10,
		Encodings:        []string{"utf-8", "iso-8859-1", "windows-1252"},
		Delimiter:        ",",
		KeepExtraColumns: true,
		Concurrency:      2,
		DefaultCrimeType: "murder",
		SourceName:       "FBI_UCR",
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(t *testing.T, st store.Store, cfg config.IngestConfig) *Pipeline {
	t.Helper()
	return New(cfg, st, WithTxRetry(resilience.RetryConfig{MaxAttempts: 1}))
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// registerFile records path as a downloaded provenance row.
func registerFile(t *testing.T, st store.Store, path string) *model.Provenance {
	t.Helper()
	p := &model.Provenance{
		SourceName: "FBI_UCR",
		DataType:   "murder_statistics",
		Year:       2022,
		FilePath:   path,
	}
	require.NoError(t, st.CreateProvenance(context.Background(), p))
	return p
}

func ptr[T any](v T) *T { return &v }
