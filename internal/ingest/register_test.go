package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 5, 14, 30, 9, 0, time.UTC)
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRegister(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	path := writeCSV(t, "murder_2022.csv", threeRowCSV)

	r := NewRegistrar(st, nil, testConfig())
	r.now = fixedClock
	prov, err := r.Register(ctx, RegisterOpts{Path: path, DataType: "murder_statistics", Year: 2022})
	require.NoError(t, err)
	require.NotZero(t, prov.ID)

	got, err := st.GetProvenance(ctx, prov.ID)
	require.NoError(t, err)
	assert.Equal(t, "FBI_UCR", got.SourceName)
	assert.Equal(t, model.ProvenanceDownloaded, got.Status)
	assert.Equal(t, sha(threeRowCSV), got.FileHash)
	assert.True(t, filepath.IsAbs(got.FilePath))
	assert.EqualValues(t, len(threeRowCSV), got.Metadata["file_size_bytes"])
	assert.Equal(t, "2024-03-05T14:30:09Z", got.Metadata["registered_at"])
}

func TestRegister_Validation(t *testing.T) {
	st := newTestStore(t)
	r := NewRegistrar(st, nil, testConfig())
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterOpts{Path: "x.csv", Year: 2022})
	assert.ErrorContains(t, err, "data type is required")

	_, err = r.Register(ctx, RegisterOpts{Path: "x.csv", DataType: "murder_statistics", Year: 1800})
	assert.ErrorContains(t, err, "outside 1900-2100")

	_, err = r.Register(ctx, RegisterOpts{Path: filepath.Join(t.TempDir(), "missing.csv"), DataType: "murder_statistics", Year: 2022})
	assert.ErrorContains(t, err, "ingest: open")
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		RatePerSec: 1000,
		Retry:      &resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(threeRowCSV))
	}))
	defer srv.Close()

	st := newTestStore(t)
	cfg := testConfig()
	cfg.StorageDir = filepath.Join(t.TempDir(), "raw")

	r := NewRegistrar(st, testFetcher(), cfg)
	r.now = fixedClock
	prov, err := r.Download(context.Background(), DownloadOpts{
		URL:      srv.URL + "/api/data/murder/2022/download.csv",
		DataType: "murder",
		Year:     2022,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.StorageDir, "murder_2022_20240305_143009.csv"), prov.FilePath)
	assert.Equal(t, sha(threeRowCSV), prov.FileHash)
	assert.Contains(t, prov.SourceURL, "/download.csv")

	data, err := os.ReadFile(prov.FilePath)
	require.NoError(t, err)
	assert.Equal(t, threeRowCSV, string(data))

	got, err := st.GetProvenance(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T14:30:09Z", got.Metadata["download_timestamp"])
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	st := newTestStore(t)
	cfg := testConfig()
	cfg.StorageDir = t.TempDir()

	r := NewRegistrar(st, testFetcher(), cfg)
	_, err := r.Download(context.Background(), DownloadOpts{URL: srv.URL + "/x.zip", DataType: "murder", Year: 2022})
	require.Error(t, err)
	assert.True(t, fetcher.IsNotFound(err))

	entries, err := os.ReadDir(cfg.StorageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	list, err := st.ListProvenance(context.Background(), store.ProvenanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDownload_Validation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewRegistrar(st, nil, testConfig()).Download(ctx, DownloadOpts{URL: "http://x/y.csv", DataType: "murder", Year: 2022})
	assert.ErrorContains(t, err, "no fetcher configured")

	_, err = NewRegistrar(st, testFetcher(), testConfig()).Download(ctx, DownloadOpts{URL: "not a url", DataType: "murder", Year: 2022})
	assert.ErrorContains(t, err, "invalid url")
}

func TestDownloadExt(t *testing.T) {
	for in, want := range map[string]string{
		"https://x/data.ZIP":        ".zip",
		"https://x/data.xlsx":       ".xlsx",
		"https://x/api/data?y=2022": ".csv",
		"https://x/data.json":       ".csv",
	} {
		u, err := url.Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, downloadExt(u), in)
	}
}

func TestNewDownloader_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("year,crime_type\n"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "secret"
	cfg.DownloadRetries = 1

	rc, err := NewDownloader(cfg).Download(context.Background(), srv.URL+"/data.csv")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
}
