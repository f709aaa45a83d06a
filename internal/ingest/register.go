package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/fetcher"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/resilience"
	"github.com/sells-group/crime-stats/internal/store"
)

// versionedLayout timestamps downloaded file names.
const versionedLayout = "20060102_150405"

// RegisterOpts describes a source file to track.
type RegisterOpts struct {
	Path       string
	SourceName string // default cfg.SourceName
	SourceURL  string
	DataType   string
	Year       int
}

// DownloadOpts describes a remote source file to fetch and track.
type DownloadOpts struct {
	URL        string
	SourceName string // default cfg.SourceName
	DataType   string
	Year       int
}

// Registrar creates provenance records for local or downloaded files.
type Registrar struct {
	repo       store.ProvenanceRepository
	fetcher    fetcher.Fetcher
	sourceName string
	storageDir string
	now        func() time.Time
}

// NewRegistrar creates a Registrar. f may be nil when only local files are registered.
func NewRegistrar(repo store.ProvenanceRepository, f fetcher.Fetcher, cfg config.IngestConfig) *Registrar {
	return &Registrar{
		repo:       repo,
		fetcher:    f,
		sourceName: cfg.SourceName,
		storageDir: cfg.StorageDir,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewDownloader builds the fetcher used for source downloads: HTTP(S) with
// retries and the API key sent as a bearer token, FTP with URL credentials
// or an anonymous login.
func NewDownloader(cfg config.IngestConfig) *fetcher.SchemeFetcher {
	opts := fetcher.HTTPOptions{BearerToken: cfg.APIKey}
	if cfg.DownloadRetries > 0 {
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.DownloadRetries
		opts.Retry = &retry
	}
	return fetcher.NewSchemeFetcher(fetcher.NewHTTPFetcher(opts), fetcher.NewFTPFetcher(fetcher.FTPOptions{}))
}

// Register hashes a local file and records it with status downloaded.
func (r *Registrar) Register(ctx context.Context, opts RegisterOpts) (*model.Provenance, error) {
	if err := validateSource(opts.DataType, opts.Year); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: resolve %s", opts.Path)
	}

	hash, size, err := hashFile(abs)
	if err != nil {
		return nil, err
	}

	prov := &model.Provenance{
		SourceName:   r.name(opts.SourceName),
		SourceURL:    opts.SourceURL,
		DataType:     opts.DataType,
		Year:         opts.Year,
		DownloadedAt: r.now(),
		FilePath:     abs,
		FileHash:     hash,
		Status:       model.ProvenanceDownloaded,
		Metadata: map[string]any{
			"file_size_bytes": size,
			"registered_at":   r.now().Format(time.RFC3339),
		},
	}
	if err := r.repo.CreateProvenance(ctx, prov); err != nil {
		return nil, eris.Wrap(err, "ingest: create provenance")
	}

	zap.L().Info("ingest: registered source",
		zap.Int64("provenance_id", prov.ID),
		zap.String("file", abs),
		zap.String("sha256", hash),
	)
	return prov, nil
}

// Download fetches opts.URL into the storage directory under a versioned
// name ({data_type}_{year}_{timestamp}{ext}) and records it. A 404 fails
// without retrying; the partial file is removed on any error.
func (r *Registrar) Download(ctx context.Context, opts DownloadOpts) (*model.Provenance, error) {
	if r.fetcher == nil {
		return nil, eris.New("ingest: no fetcher configured for downloads")
	}
	if err := validateSource(opts.DataType, opts.Year); err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("ingest: invalid url %q", opts.URL)
	}

	if err := os.MkdirAll(r.storageDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "ingest: create storage dir %s", r.storageDir)
	}

	ts := r.now()
	name := fmt.Sprintf("%s_%d_%s%s", opts.DataType, opts.Year, ts.Format(versionedLayout), downloadExt(u))
	dest, err := filepath.Abs(filepath.Join(r.storageDir, name))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: resolve download path")
	}

	log := zap.L().With(zap.String("component", "ingest.download"), zap.String("url", opts.URL))
	log.Info("ingest: downloading", zap.String("file", dest))

	if _, err := r.fetcher.DownloadToFile(ctx, opts.URL, dest); err != nil {
		return nil, eris.Wrap(err, "ingest: download")
	}

	hash, size, err := hashFile(dest)
	if err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	prov := &model.Provenance{
		SourceName:   r.name(opts.SourceName),
		SourceURL:    opts.URL,
		DataType:     opts.DataType,
		Year:         opts.Year,
		DownloadedAt: ts,
		FilePath:     dest,
		FileHash:     hash,
		Status:       model.ProvenanceDownloaded,
		Metadata: map[string]any{
			"download_timestamp": ts.Format(time.RFC3339),
			"file_size_bytes":    size,
		},
	}
	if err := r.repo.CreateProvenance(ctx, prov); err != nil {
		_ = os.Remove(dest)
		return nil, eris.Wrap(err, "ingest: create provenance")
	}

	log.Info("ingest: downloaded source", zap.Int64("provenance_id", prov.ID), zap.Int64("bytes", size))
	return prov, nil
}

func (r *Registrar) name(override string) string {
	if override != "" {
		return override
	}
	return r.sourceName
}

func validateSource(dataType string, year int) error {
	if strings.TrimSpace(dataType) == "" {
		return eris.New("ingest: data type is required")
	}
	if year < minValidYear || year > maxValidYear {
		return eris.Errorf("ingest: year %d outside %d-%d", year, minValidYear, maxValidYear)
	}
	return nil
}

func downloadExt(u *url.URL) string {
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".csv", ".tsv", ".txt", ".xlsx", ".zip":
		return ext
	default:
		return ".csv"
	}
}

// hashFile returns the hex SHA-256 and size of the file at p.
func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, eris.Wrapf(err, "ingest: open %s", p)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, eris.Wrapf(err, "ingest: hash %s", p)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
