package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// TableOptions configures ReadTable.
type TableOptions struct {
	// Encodings are tried in order for delimited text. Default DefaultEncodings.
	Encodings []string

	// Delimiter for delimited text. Default ',' (tab for .tsv files).
	Delimiter rune

	// MaxRows stops reading after this many data rows (0 = all).
	MaxRows int
}

// Table is a header row plus data rows read from a source file.
type Table struct {
	Header   []string
	Rows     [][]string
	Encoding string // empty for xlsx
	Format   string // csv, tsv or xlsx
}

// Column returns the index of the header named name, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// ReadTable reads a delimited text, XLSX or zipped file into memory.
// Fields are trimmed and rows whose fields are all empty are skipped.
// An empty file yields a Table with no header and no rows.
func ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".zip":
		dir, err := os.MkdirTemp("", "crime-stats-zip-*")
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		inner, err := ExtractZIPTable(path, dir)
		if err != nil {
			return nil, err
		}
		return ReadTable(ctx, inner, opts)
	case ".xlsx":
		return readXLSXTable(path, opts)
	default:
		return readDelimitedTable(ctx, path, ext, opts)
	}
}

func readXLSXTable(path string, opts TableOptions) (*Table, error) {
	rows, err := ReadXLSX(path, XLSXOptions{TrimSpace: true})
	if err != nil {
		return nil, err
	}

	t := &Table{Format: "xlsx"}
	for _, row := range rows {
		if blank(row) {
			continue
		}
		if t.Header == nil {
			t.Header = row
			continue
		}
		if opts.MaxRows > 0 && len(t.Rows) >= opts.MaxRows {
			break
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func readDelimitedTable(ctx context.Context, path, ext string, opts TableOptions) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}

	text, enc, err := Decode(path, data, opts.Encodings)
	if err != nil {
		return nil, err
	}

	t := &Table{Encoding: enc, Format: "csv"}
	delim := opts.Delimiter
	if ext == ".tsv" {
		delim = '\t'
		t.Format = "tsv"
	}
	if delim == 0 {
		delim = ','
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader(text), CSVOptions{
		Delimiter:     delim,
		LazyQuotes:    true,
		TrimSpace:     true,
		SkipBlankRows: true,
	})

	truncated := false
	for row := range rowCh {
		if t.Header == nil {
			t.Header = row
			continue
		}
		if opts.MaxRows > 0 && len(t.Rows) >= opts.MaxRows {
			truncated = true
			cancel()
			break
		}
		t.Rows = append(t.Rows, row)
	}
	// Drain so the reader goroutine exits after a cancel.
	for range rowCh {
	}
	if err := <-errCh; err != nil && !truncated {
		return nil, err
	}
	return t, nil
}
