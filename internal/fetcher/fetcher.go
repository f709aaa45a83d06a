// Package fetcher downloads source files and reads tabular extracts
// (CSV, TSV, XLSX, and ZIP archives holding one of those).
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// SchemeFetcher routes ftp:// URLs to an FTP fetcher and everything else to
// an HTTP fetcher.
type SchemeFetcher struct {
	http Fetcher
	ftp  Fetcher
}

// NewSchemeFetcher creates a SchemeFetcher. A nil ftp fetcher rejects ftp URLs.
func NewSchemeFetcher(http, ftp Fetcher) *SchemeFetcher {
	return &SchemeFetcher{http: http, ftp: ftp}
}

func (f *SchemeFetcher) route(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "ftp":
		if f.ftp == nil {
			return nil, eris.New("fetcher: ftp downloads are not configured")
		}
		return f.ftp, nil
	case "http", "https":
		return f.http, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported url scheme %q", u.Scheme)
	}
}

// Download fetches rawURL with the fetcher for its scheme.
func (f *SchemeFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	inner, err := f.route(rawURL)
	if err != nil {
		return nil, err
	}
	return inner.Download(ctx, rawURL)
}

// DownloadToFile fetches rawURL into path with the fetcher for its scheme.
func (f *SchemeFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	inner, err := f.route(rawURL)
	if err != nil {
		return 0, err
	}
	return inner.DownloadToFile(ctx, rawURL, path)
}
